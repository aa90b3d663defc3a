// Package main is the entry point for the interception proxy binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is injected at build time via -ldflags and surfaced both by
// `proxy version` and by the control endpoint's health payload.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "proxy",
		Short: "Intercepting HTTP/HTTPS forward proxy",
		Long:  "An intercepting forward proxy with TLS termination, per-host certificate minting, and a pluggable certificate cache.",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newCertCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
