package main

import (
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relayforge/interceptproxy/internal/certauthority"
)

// newCertCommand implements the CA management subcommand: generating
// new CA material and printing the existing CA certificate for
// installation into a client trust store.
func newCertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage the local certificate authority",
	}
	cmd.AddCommand(newCertGenerateCommand())
	cmd.AddCommand(newCertPrintCommand())
	return cmd
}

func newCertGenerateCommand() *cobra.Command {
	var (
		certPath, keyPath, org, cn string
		validityDays               int
		force                      bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new self-signed CA certificate and key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(certPath); err == nil {
					return fmt.Errorf("%s already exists; use --force to overwrite", certPath)
				}
			}
			opts := certauthority.Options{ValidityDays: validityDays, Organization: org, CommonName: cn}
			if err := certauthority.Generate(certPath, keyPath, opts); err != nil {
				return fmt.Errorf("generating CA: %w", err)
			}
			fmt.Printf("CA certificate: %s\nCA key: %s\n", certPath, keyPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&certPath, "cert-path", "certs/ca.crt", "output path for the CA certificate")
	cmd.Flags().StringVar(&keyPath, "key-path", "certs/ca.key", "output path for the CA private key")
	cmd.Flags().StringVar(&org, "organization", "Intercept Proxy", "CA certificate organization")
	cmd.Flags().StringVar(&cn, "common-name", "Intercept Proxy Local CA", "CA certificate common name")
	cmd.Flags().IntVar(&validityDays, "validity-days", 3650, "leaf validity in days; not applied to the generated CA, which is always valid for 3650 days")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing certificate files")
	return cmd
}

func newCertPrintCommand() *cobra.Command {
	var certPath, keyPath string
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the CA certificate in PEM form",
		RunE: func(cmd *cobra.Command, args []string) error {
			authority, err := certauthority.Load(certPath, keyPath, certauthority.Options{})
			if err != nil {
				return fmt.Errorf("loading CA: %w", err)
			}
			return pem.Encode(cmd.OutOrStdout(), &pem.Block{Type: "CERTIFICATE", Bytes: authority.CertDER()})
		},
	}
	cmd.Flags().StringVar(&certPath, "cert-path", "certs/ca.crt", "path to the CA certificate")
	cmd.Flags().StringVar(&keyPath, "key-path", "certs/ca.key", "path to the CA private key")
	return cmd
}
