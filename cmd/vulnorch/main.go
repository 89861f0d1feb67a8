package main

import "github.com/L1nMay/vulnorch/internal/cli"

func main() {
	cli.Execute()
}
