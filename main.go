package main

import (
	"fmt"
	"os"

	"queue-router/internal/app"
)

var version = "dev"

func main() {
	if err := app.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
