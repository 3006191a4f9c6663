package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/scrape"
)

type scrapeOptions struct {
	maxResults int
	workers    int
	format     string
	output     string
}

// newScrapeCmd creates the 'scrape' subcommand. One query runs as a sync
// scrape; several run as a bulk scrape in batches.
func newScrapeCmd() *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape QUERY [QUERY...]",
		Short: "Runs a scrape and prints the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, args, opts)
		},
	}
	cmd.Flags().IntVar(&opts.maxResults, "max-results", 0, "maximum places per query (0 uses the configured default)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "parallel extraction workers (0 uses the configured default)")
	cmd.Flags().StringVar(&opts.format, "format", formatJSONL, "output format: jsonl, csv, or yaml")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func runScrape(cmd *cobra.Command, queries []string, opts scrapeOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := scrape.RunParams{MaxResults: opts.maxResults, Workers: opts.workers}
	svc := appInstance.Service()
	var results []queryRecords
	if len(queries) == 1 {
		records, err := svc.RunSync(ctx, queries[0], params)
		if err != nil {
			return fmt.Errorf("scrape %q: %w", queries[0], err)
		}
		results = append(results, queryRecords{Query: queries[0], Records: records})
	} else {
		bulk, err := svc.RunBulk(ctx, queries, params)
		if err != nil && len(bulk) == 0 {
			return fmt.Errorf("bulk scrape: %w", err)
		}
		for _, res := range bulk {
			if res.Error != "" {
				zap.L().Warn("query failed", zap.String("query", res.Query), zap.String("error", res.Error))
			}
			results = append(results, queryRecords{Query: res.Query, Records: res.Records, Error: res.Error})
		}
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writeResults(out, opts.format, results)
}
