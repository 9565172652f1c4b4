package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghalehnoei/news-scraper/internal/server"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <source> <raw-category>",
		Short: "Print the normalized category for a raw upstream label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			classifier, err := server.LoadClassifier(rt.cfg.Categories, rt.logger)
			if err != nil {
				return err
			}
			category, raw := classifier.Preview(args[0], args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", category, raw)
			return nil
		},
	}
}
