package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghalehnoei/news-scraper/internal/server"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the article and source schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			// Opening a store applies its embedded schema.
			_, closeStore, err := server.OpenStore(cmd.Context(), rt.cfg.DB, rt.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s: %s, %s)\n",
				rt.cfg.DB.Driver, rt.cfg.DB.Table, rt.cfg.DB.SourcesTable)
			return nil
		},
	}
}
