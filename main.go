package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
