package cmd

import (
	"fmt"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/erc4337/aa-bundler/core/reputation"
	"github.com/erc4337/aa-bundler/storage"
)

var statusDBPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the reputation table from a stopped node's database",
	Long:  `Opens the storage database a bundler was run against and pretty-prints its reputation table. Run this against a stopped node only: badger holds an exclusive lock on the directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := storage.NewWithPath(statusDBPath)
		if err != nil {
			fmt.Printf("failed to open storage at %s: %v\n", statusDBPath, err)
			os.Exit(1)
		}
		defer db.Close()

		repManager, err := reputation.New(db, reputation.BundlerProfile, nil)
		if err != nil {
			fmt.Printf("failed to load reputation table: %v\n", err)
			os.Exit(1)
		}

		entries := repManager.DumpEntries()
		fmt.Printf("reputation table at %s: %d entries\n", statusDBPath, len(entries))
		pp.Println(entries)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "./data/bundler", "Path to the bundler's storage directory")
	rootCmd.AddCommand(statusCmd)
}
