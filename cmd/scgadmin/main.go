package main

import (
	"fmt"
	"os"

	"github.com/next-trace/scg-service-admin/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scgadmin:", err)
		os.Exit(1)
	}
}
