package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and list endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "configuration OK: %s\n", cfgFile)
		fmt.Fprintf(out, "provider: %s\n", cfg.Provider)
		if cfg.TurnstileEnabled() {
			fmt.Fprintln(out, "turnstile: enabled")
		} else {
			fmt.Fprintln(out, "turnstile: DISABLED")
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tRECIPIENT\tSUBJECT")
		for _, ep := range cfg.Endpoints {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ep.Path, ep.Recipient, ep.Subject)
		}
		return w.Flush()
	},
}
