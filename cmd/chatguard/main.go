package main

import (
	"os"

	"github.com/ZentaChain/chatguard/cmd/chatguard/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
