package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalehnoei/news-scraper/internal/media"
	"github.com/ghalehnoei/news-scraper/internal/server"
)

func newPresignCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "presign <ref>",
		Short: "Print a fresh read URL for a stored media reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			store, closeStore, err := server.OpenObjectStore(cmd.Context(), rt.cfg.Storage, rt.cfg.Telemetry.ProjectID, rt.logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			resolver := media.NewResolver(store, media.ResolverConfig{
				Endpoint:   rt.cfg.Storage.Endpoint,
				Bucket:     rt.cfg.Storage.Bucket,
				PresignTTL: rt.cfg.Storage.PresignTTL,
			}, rt.logger)
			key, err := resolver.ToStorageKey(args[0])
			if err != nil {
				return fmt.Errorf("resolve %q: %w", args[0], err)
			}
			if ttl <= 0 {
				ttl = resolver.TTL()
			}
			signed, err := resolver.Presign(cmd.Context(), key, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime (default storage.presign_ttl)")
	return cmd
}
