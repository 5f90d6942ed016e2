// Package hatchcrawl is the crawl engine's programmatic entry point: a
// bounded-concurrency site crawler that records the HTTP status and
// metadata of every resource it discovers, following only the references
// admitted by its scope policy. cmd/hatchcrawl is a thin CLI shell over the
// two functions this package exposes.
package hatchcrawl

import (
	"context"

	"github.com/hatchworks/hatchcrawl/internal/config"
	"github.com/hatchworks/hatchcrawl/internal/coordinator"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// Options is the full configuration of one crawl, mirroring the long form
// of the CLI flags. Aliased here so an embedding program can construct it
// without reaching into internal packages.
type Options = config.Options

// SiteModel is the finalized result of a crawl: every URL seen, its fetch
// status, and the reference graph between pages.
type SiteModel = sitemodel.SiteModel

// Snapshot is an immutable copy of a SiteModel's state, suitable for a
// report formatter.
type Snapshot = sitemodel.Snapshot

// Page is one node in the site graph.
type Page = sitemodel.Page

// DefaultOptions returns the engine's default configuration; callers
// override fields before passing it to CrawlWithOptions.
func DefaultOptions() Options { return config.DefaultOptions() }

// Crawl runs a crawl of a single start URL with default options and returns
// the finalized Site Model.
func Crawl(ctx context.Context, startURL string) (*sitemodel.SiteModel, error) {
	return CrawlWithOptions(ctx, []string{startURL}, config.DefaultOptions())
}

// CrawlWithOptions runs a crawl of one or more start URLs under opts and
// returns the finalized Site Model.
func CrawlWithOptions(ctx context.Context, startURLs []string, opts config.Options) (*sitemodel.SiteModel, error) {
	return coordinator.Run(ctx, startURLs, opts)
}
