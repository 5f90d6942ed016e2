package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hatchworks/hatchcrawl/internal/config"
	"github.com/hatchworks/hatchcrawl/internal/coordinator"
	"github.com/hatchworks/hatchcrawl/internal/logging"
	"github.com/hatchworks/hatchcrawl/internal/report"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

var (
	flagTestOutside      bool
	flagAcceptedHosts    []string
	flagIgnore           []string
	flagUsername         string
	flagPassword         string
	flagTypes            []string
	flagTimeoutSeconds   int
	flagStrict           bool
	flagRunOnce          bool
	flagDepth            int
	flagWorkers          int
	flagMode             string
	flagIgnoreBadTelURLs bool
	flagAllowInsecure    bool
	flagFormat           string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl URL [URL...]",
	Short: "Crawl one or more seed URLs and report broken links",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	f := crawlCmd.Flags()
	f.BoolVarP(&flagTestOutside, "test-outside", "O", false, "fetch out-of-scope hosts once instead of skipping them")
	f.StringSliceVarP(&flagAcceptedHosts, "accepted-hosts", "H", nil, "additional hosts to crawl and follow")
	f.StringSliceVarP(&flagIgnore, "ignore", "i", nil, "host/path prefixes to skip")
	f.StringVar(&flagUsername, "username", os.Getenv("HATCHCRAWL_USERNAME"), "HTTP Basic auth username")
	f.StringVar(&flagPassword, "password", os.Getenv("HATCHCRAWL_PASSWORD"), "HTTP Basic auth password")
	f.StringSliceVarP(&flagTypes, "types", "t", nil, "HTML tags to extract links from (subset of a,img,link,script)")
	f.IntVarP(&flagTimeoutSeconds, "timeout", "T", 30, "per-request timeout in seconds")
	f.BoolVarP(&flagStrict, "strict", "C", false, "disable whitespace trimming on href/src")
	f.BoolVarP(&flagRunOnce, "run-once", "N", false, "only fetch the start URLs (depth cap = 0)")
	f.IntVar(&flagDepth, "depth", 3, "maximum crawl depth (0 = start URLs only)")
	f.IntVarP(&flagWorkers, "workers", "w", 8, "number of concurrent workers")
	f.StringVarP(&flagMode, "mode", "m", "thread", "concurrency backend: thread, process, or green")
	f.BoolVar(&flagIgnoreBadTelURLs, "ignore-bad-tel-urls", false, "silently skip malformed tel: links instead of recording InvalidUrl")
	f.BoolVar(&flagAllowInsecure, "allow-insecure-content", false, "disable TLS certificate verification")
	f.StringVarP(&flagFormat, "format", "f", "text", "output format for the bundled minimal reporter: text or json")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	if err := logging.Init(debug); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync()

	opts := config.DefaultOptions()
	opts.StartURLs = args
	opts.TestOutside = flagTestOutside
	opts.AcceptedHosts = flagAcceptedHosts
	opts.IgnoredPrefixes = flagIgnore
	opts.Username = flagUsername
	opts.Password = flagPassword
	opts.Types = flagTypes
	opts.Timeout = time.Duration(flagTimeoutSeconds) * time.Second
	opts.Strict = flagStrict
	opts.RunOnce = flagRunOnce
	opts.MaxDepth = flagDepth
	opts.Workers = flagWorkers
	opts.Mode = config.Mode(flagMode)
	opts.IgnoreBadTelURLs = flagIgnoreBadTelURLs
	opts.AllowInsecureContent = flagAllowInsecure
	opts.Debug = debug

	if err := opts.Validate(); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("invalid configuration: %w", err)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(debug)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	reporter := report.NewTickerReporter(logger, 2*time.Second)

	site, err := coordinator.Run(ctx, args, opts, coordinator.WithReporter(reporter), coordinator.WithLogger(logger))
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("crawl failed: %w", err)}
	}

	if err := writeReport(os.Stdout, site, flagFormat); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("writing report: %w", err)}
	}

	if site.ErroneousCount() > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// writeReport is a minimal text/JSON writer standing in for richer
// formatters (console tables, file output, SMTP delivery); it reads the
// finalized Snapshot and nothing else.
func writeReport(w *os.File, site *sitemodel.SiteModel, format string) error {
	snap := site.Snapshot()
	switch format {
	case "json":
		return writeJSONReport(w, snap)
	default:
		return writeTextReport(w, snap)
	}
}

type jsonPage struct {
	URL       string `json:"url"`
	Depth     int    `json:"depth"`
	Status    string `json:"status"`
	HTTPCode  int    `json:"http_status,omitempty"`
	Erroneous bool   `json:"erroneous"`
}

func writeJSONReport(w *os.File, snap sitemodel.Snapshot) error {
	enc := json.NewEncoder(w)
	for _, p := range snap.Pages {
		if err := enc.Encode(jsonPage{
			URL:       p.CanonicalURL.String(),
			Depth:     p.Depth,
			Status:    p.Status.Kind.String(),
			HTTPCode:  p.Status.Code,
			Erroneous: p.Erroneous,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeTextReport(w *os.File, snap sitemodel.Snapshot) error {
	var erroneous, ok, skipped int
	for _, p := range snap.Pages {
		switch {
		case p.Erroneous:
			erroneous++
			fmt.Fprintf(w, "ERROR  %-7s %s (depth %d)\n", p.Status.Kind, p.CanonicalURL.String(), p.Depth)
		case p.Status.Kind == sitemodel.SkippedByPolicy:
			skipped++
		default:
			ok++
		}
	}
	fmt.Fprintf(w, "\n%d pages crawled: %d ok, %d erroneous, %d skipped\n", len(snap.Pages), ok, erroneous, skipped)
	return nil
}
