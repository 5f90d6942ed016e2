// Package coordinator owns the queue, the worker pool, and the termination
// protocol: it seeds the work queue with the
// start URLs, spins up whichever concurrency backend Options.Mode selects,
// and returns the finalized Site Model once the queue is empty and no
// worker is still processing an item that could discover more work.
package coordinator

import (
	"context"
	"fmt"

	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/config"
	"github.com/hatchworks/hatchcrawl/internal/extract"
	"github.com/hatchworks/hatchcrawl/internal/fetch"
	"github.com/hatchworks/hatchcrawl/internal/logging"
	"github.com/hatchworks/hatchcrawl/internal/queue"
	"github.com/hatchworks/hatchcrawl/internal/report"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
	"github.com/hatchworks/hatchcrawl/internal/workerpool"
)

// ErrNoValidStartURL is a fatal configuration error: none of the supplied
// start URLs resolved to a valid canonical http(s) form.
var ErrNoValidStartURL = fmt.Errorf("coordinator: no start URL resolved to a valid canonical form")

// settings holds the optional collaborators Run accepts beyond the required
// (ctx, startURLs, cfg) triple. Constructed via the functional Option type so
// Run's required signature stays the plain three arguments while still
// letting an embedding program plug in its own Reporter/Logger/Fetcher/
// Parser.
type settings struct {
	reporter report.Reporter
	logger   *logging.Logger
	fetcher  fetch.Fetcher
	parser   extract.Parser
}

// Option configures an optional Run collaborator.
type Option func(*settings)

// WithReporter installs a progress observer; the default is report.NopReporter{}.
func WithReporter(r report.Reporter) Option {
	return func(s *settings) { s.reporter = r }
}

// WithLogger installs a *logging.Logger for this run's diagnostic output;
// the default is a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithFetcher overrides the default net/http-backed Fetcher, chiefly for
// tests that substitute a fake.
func WithFetcher(f fetch.Fetcher) Option {
	return func(s *settings) { s.fetcher = f }
}

// WithParser overrides the default goquery-backed Parser.
func WithParser(p extract.Parser) Option {
	return func(s *settings) { s.parser = p }
}

// Run seeds startURLs at depth 0, runs the configured backend to completion,
// and returns the finalized Site Model.
func Run(ctx context.Context, startURLs []string, cfg config.Options, opts ...Option) (*sitemodel.SiteModel, error) {
	st := settings{reporter: report.NopReporter{}, logger: logging.Nop()}
	for _, o := range opts {
		o(&st)
	}

	cfg.StartURLs = startURLs
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	maxDepth := cfg.MaxDepth // Validate already forces this to 0 when RunOnce is set

	site := sitemodel.New()
	policy, seeds, err := seedPolicy(site, startURLs, cfg)
	if err != nil {
		return nil, err
	}

	bufSize := cfg.QueueBufferSize
	if bufSize < 1 {
		bufSize = 256
	}
	q := queue.New(site, bufSize, maxDepth, policy)

	fetcher := st.fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Options{
			Timeout:              cfg.Timeout,
			UserAgent:            "hatchcrawl/1.0",
			AllowInsecureContent: cfg.AllowInsecureContent,
			Username:             cfg.Username,
			Password:             cfg.Password,
			Policy:               policy,
		})
	}
	parser := st.parser
	if parser == nil {
		parser = &extract.GoqueryParser{TagAttrs: tagAttrs(cfg.Types), Strict: cfg.Strict}
	}

	proc := &workerpool.Processor{
		Fetcher:          fetcher,
		Parser:           parser,
		Queue:            q,
		Site:             site,
		Reporter:         st.reporter,
		IgnoreBadTelURLs: cfg.IgnoreBadTelURLs,
	}

	pool, err := newPool(cfg, proc, policy, maxDepth, bufSize)
	if err != nil {
		return nil, err
	}

	st.logger.Info("crawl starting",
		logging.NewField("run_id", site.RunID),
		logging.NewField("start_urls", len(seeds)),
		logging.NewField("mode", string(cfg.Mode)),
		logging.NewField("workers", cfg.Workers),
	)

	for _, u := range seeds {
		site.StartURLs = append(site.StartURLs, u)
		q.Admit(u, 0, nil)
	}

	// The closer goroutine implements the busy-count termination protocol:
	// Wait returns only once every admitted item (including every item
	// admitted while processing an earlier one) has been marked Done, at
	// which point nothing can ever push to the queue again, so closing it
	// is safe.
	go func() {
		q.Wait()
		q.Close()
	}()

	runErr := pool.Run(ctx)
	_ = pool.Close()

	site.Finish()
	st.reporter.OnIdle()

	st.logger.Info("crawl finished",
		logging.NewField("run_id", site.RunID),
		logging.NewField("pages", site.Len()),
		logging.NewField("erroneous", site.ErroneousCount()),
		logging.NewField("duration_ms", site.EndTime.Sub(site.StartTime).Milliseconds()),
	)

	return site, runErr
}

// seedPolicy canonicalizes every start URL, builds the admission Policy from
// their hosts plus cfg, and registers each valid one as a Site Model start
// URL (without yet admitting it onto the queue — the caller does that once
// the Queue exists, since Queue needs the finished Policy to construct).
func seedPolicy(site *sitemodel.SiteModel, startURLs []string, cfg config.Options) (canon.Policy, []canon.CanonicalUrl, error) {
	policy := canon.Policy{
		StartHosts:      map[string]bool{},
		AcceptedHosts:   map[string]bool{},
		IgnoredPrefixes: cfg.IgnoredPrefixes,
		TestOutside:     cfg.TestOutside,
	}
	for _, h := range cfg.AcceptedHosts {
		policy.AcceptedHosts[h] = true
	}

	var seeds []canon.CanonicalUrl
	for _, raw := range startURLs {
		u, err := canon.Canonicalize(raw, nil)
		if err != nil {
			continue
		}
		policy.StartHosts[u.Host] = true
		seeds = append(seeds, u)
	}
	if len(seeds) == 0 {
		return policy, nil, ErrNoValidStartURL
	}
	return policy, seeds, nil
}

func tagAttrs(types []string) map[string]string {
	if len(types) == 0 {
		return extract.DefaultTagAttrs
	}
	out := make(map[string]string, len(types))
	for _, t := range types {
		if attr, ok := extract.DefaultTagAttrs[t]; ok {
			out[t] = attr
		}
	}
	return out
}

func newPool(cfg config.Options, proc *workerpool.Processor, policy canon.Policy, maxDepth, bufSize int) (workerpool.Pool, error) {
	switch cfg.Mode {
	case config.ModeThread, "":
		return &workerpool.ThreadPool{Workers: cfg.Workers, Processor: proc}, nil
	case config.ModeProcess:
		if cfg.Workers < 1 {
			return nil, config.ErrProcessModeNoWorker
		}
		return &workerpool.ProcessPool{
			Processor: proc,
			Workers:   cfg.Workers,
			Handshake: workerpool.BuildHandshake(cfg, policy, maxDepth, bufSize),
		}, nil
	case config.ModeGreen:
		return &workerpool.CooperativePool{Processor: proc, MaxConcurrent: int64(cfg.Workers)}, nil
	default:
		return nil, config.ErrInvalidMode
	}
}
