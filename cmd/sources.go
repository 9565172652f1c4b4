package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalehnoei/news-scraper/internal/server"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and toggle the source registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := server.OpenStore(cmd.Context(), rt.cfg.DB, rt.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			states, err := store.ListSources(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENABLED\tINTERVAL\tLAST RUN")
			for _, s := range states {
				last := "-"
				if s.LastRunAt != nil {
					last = s.LastRunAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%t\t%dm\t%s\n", s.Name, s.Enabled, s.IntervalMinutes, last)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(newToggleCmd("enable", true), newToggleCmd("disable", false))
	return cmd
}

func newToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: fmt.Sprintf("Mark a source as %sd; running workers pick it up on restart", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := server.OpenStore(cmd.Context(), rt.cfg.DB, rt.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			if err := store.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return fmt.Errorf("%s %s: %w", use, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], use)
			return nil
		},
	}
}
