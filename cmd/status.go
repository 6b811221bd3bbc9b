package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/app"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarizes the saved checkpoint without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			store, closeFn, err := app.OpenCheckpoint(cmd.Context(), rt.cfg.Checkpoint)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() {
					if cerr := closeFn(); cerr != nil {
						rt.logger.Warn("close checkpoint store", zap.Error(cerr))
					}
				}()
			}

			snap, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			summary := crawler.SummaryFromSnapshot(snap, rt.cfg.Crawler.Target, checkpointOutcome(snap, rt.cfg.Crawler.Target))

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return fmt.Errorf("encode summary: %w", err)
				}
				return nil
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// checkpointOutcome infers how the saved crawl stands. An empty outcome means
// the crawl can still make progress.
func checkpointOutcome(snap crawler.Snapshot, target int) crawler.Outcome {
	switch {
	case snap.KeptCount >= target:
		return crawler.OutcomeTargetReached
	case len(snap.Frontier) == 0 && len(snap.SeenKeys) > 0:
		return crawler.OutcomeFrontierExhausted
	default:
		return ""
	}
}
