package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	config  = "./config/bundler.yaml"
	rootCmd = &cobra.Command{
		Use:   "aa-bundler",
		Short: "ERC-4337 bundler CLI",
		Long: `aa-bundler runs and inspects an ERC-4337 account-abstraction bundler node.

Use "aa-bundler run" to start the node, or "aa-bundler version" to print build info.
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", "config/bundler.yaml", "Path to config file")
}
