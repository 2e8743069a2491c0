package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/places-scraper/internal/job"
)

func newScrapeCmd() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "scrape [flags] QUERY...",
		Short: "Run one job and print its final status",
		Long: `Runs the given queries as a single job and prints the final job record
as JSON. Interrupting the command terminates the job: the current query's
records are kept and the job ends as terminated.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rec, runErr := appInstance.RunJob(ctx, args, location)
			closeErr := appInstance.Close(context.WithoutCancel(ctx))
			if runErr != nil {
				return errors.Join(runErr, closeErr)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if closeErr != nil {
				return closeErr
			}
			if rec.Status == job.StatusFailed {
				return fmt.Errorf("job %s failed: %s", rec.ID, rec.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&location, "location", "l", "", "location appended to every query (required)")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}
