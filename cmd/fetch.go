package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/fetcher"
	"github.com/sells-group/choropleth/internal/ingest"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the manifest datasets that carry a url",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		m, err := loadManifest(cfg)
		if err != nil {
			return err
		}

		targets := m.FetchTargets()
		if len(targets) == 0 {
			zap.L().Info("no manifest entries have a url, nothing to fetch")
			return nil
		}

		router := fetcher.Router{
			HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:   cfg.Fetch.UserAgent,
				Timeout:     cfg.Fetch.Timeout(),
				MaxRetries:  cfg.Fetch.Retries,
				RetryWait:   2 * time.Second,
				RatePerHost: cfg.Fetch.RatePerHost,
			}),
			FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Fetch.Timeout()}),
		}

		results := make([]ingest.FetchResult, 0, len(targets))
		var failed int
		for _, t := range targets {
			res, err := ingest.Fetch(ctx, router, t, fetchForce)
			if err != nil {
				failed++
				zap.L().Error("fetch failed", zap.String("target", t.Name), zap.String("url", t.URL), zap.Error(err))
				continue
			}
			results = append(results, res)
		}

		formatFetchResults(os.Stdout, results)
		if failed > 0 {
			return eris.Errorf("fetch: %d of %d downloads failed", failed, len(targets))
		}
		return nil
	},
}

func formatFetchResults(out io.Writer, results []ingest.FetchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATASET\tPATH\tSTATUS\tBYTES\tEXTRACTED")
	_, _ = fmt.Fprintln(w, "-------\t----\t------\t-----\t---------")
	for _, r := range results {
		status := "downloaded"
		if r.Unchanged {
			status = "unchanged"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", r.Target.Name, r.Target.Path, status, r.Bytes, len(r.Extracted))
	}
	_ = w.Flush()
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "ignore saved ETags and download everything")
	rootCmd.AddCommand(fetchCmd)
}
