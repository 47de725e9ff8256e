package main

import "github.com/erc4337/aa-bundler/cmd"

func main() {
	cmd.Execute()
}
