package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxrelay/internal/config"
	"github.com/nextlevelbuilder/inboxrelay/internal/ingest"
)

func runCmd() *cobra.Command {
	var (
		limit int
		since string
	)
	cmd := &cobra.Command{
		Use:   "run <site>",
		Short: "Run one ingestion for a site and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svc, closeStores, err := buildService(cfg)
			if err != nil {
				return err
			}
			defer closeStores()

			req := ingest.Request{SiteID: args[0], Limit: limit}
			if since != "" {
				ts, err := time.Parse(time.RFC3339, since)
				if err != nil {
					if ts, err = time.Parse("2006-01-02", since); err != nil {
						return fmt.Errorf("invalid --since %q", since)
					}
				}
				req.SinceDate = ts
			}

			resp, err := svc.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max messages to fetch (default: config fetch_limit)")
	cmd.Flags().StringVar(&since, "since", "", "only fetch messages after this time (RFC 3339 or YYYY-MM-DD)")
	return cmd
}
