package main

import (
	"fmt"
	"os"

	"github.com/unclebandit/mailflow-backend/cmd/mailctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
