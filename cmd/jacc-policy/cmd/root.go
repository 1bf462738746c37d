// Package cmd provides the CLI commands for jacc-policy.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oarkflow/jacc"
)

var rootCmd = &cobra.Command{
	Use:   "jacc-policy",
	Short: "jacc-policy - policy file tool for permission caches",
	Long: `jacc-policy inspects policy files and evaluates permission checks
through the same permission cache applications use.

Policy files are YAML (.yaml, .yml) or JSON (.json). Each policy context
lists grants of permissions to code sources, for example:

  contexts:
    - id: shop
      grants:
        - code_source: {location: "file:/apps/shop.war"}
          permissions:
            - file /srv/shop/- read

Commands:
  validate    Check every permission in a policy file
  stats       Summarise a policy file
  check       Evaluate permissions against a policy
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*jacc.Config, error) {
	cfg, err := jacc.NewConfigLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}
