package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check every permission in a policy file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		st := cfg.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid")
		fmt.Fprintf(out, "  Version:  %d\n", cfg.Version)
		fmt.Fprintf(out, "  Contexts: %d\n", st.Contexts)
		fmt.Fprintf(out, "  Grants:   %d\n", st.Grants)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Summarise a policy file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		st := cfg.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Policy Statistics")
		fmt.Fprintln(out, "=================")
		fmt.Fprintf(out, "Version:      %d\n", cfg.Version)
		fmt.Fprintf(out, "Contexts:     %d\n", st.Contexts)
		fmt.Fprintf(out, "Code sources: %d\n", st.CodeSources)
		fmt.Fprintf(out, "Grants:       %d\n", st.Grants)
		if len(st.ByType) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "By permission type:")
			types := make([]string, 0, len(st.ByType))
			for k := range st.ByType {
				types = append(types, k)
			}
			sort.Strings(types)
			for _, k := range types {
				fmt.Fprintf(out, "  %-14s %d\n", k+":", st.ByType[k])
			}
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Cache Configuration:")
		fmt.Fprintf(out, "  Strict contexts:  %t\n", cfg.Cache.StrictContexts)
		fmt.Fprintf(out, "  Max epoch:        %d\n", cfg.Cache.MaxEpoch)
		fmt.Fprintf(out, "  Reset interval:   %dms\n", cfg.Cache.ResetInterval)
		fmt.Fprintf(out, "  Grant cache TTL:  %dms\n", cfg.Cache.GrantCacheTTL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statsCmd)
}
