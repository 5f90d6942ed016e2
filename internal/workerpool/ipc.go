package workerpool

import (
	"github.com/hatchworks/hatchcrawl/internal/canon"
	"github.com/hatchworks/hatchcrawl/internal/config"
	"github.com/hatchworks/hatchcrawl/internal/queue"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// The process backend's worker children share no memory with the
// coordinator or with each other. A child processes one
// job against its own disposable Site Model and Queue — running the exact
// same Processor logic the thread backend uses in-process — then reports
// back everything it observed in that disposable model as one JSON line, so
// the coordinator can replay the equivalent mutations against the real
// (shared) Site Model and Queue.

// ipcHandshake is the first line a worker child reads on stdin: the
// immutable policy and fetch options it needs to reproduce the
// coordinator's own classification and fetch behavior.
type ipcHandshake struct {
	Policy               canon.Policy
	MaxDepth             int
	QueueBufferSize      int
	Strict               bool
	Types                []string
	TimeoutNanos         int64
	UserAgent            string
	Username             string
	Password             string
	AllowInsecureContent bool
	IgnoreBadTelURLs     bool
}

// ipcJob is one line sent to a worker child on stdin.
type ipcJob struct {
	CanonicalURL canon.CanonicalUrl
	Depth        int
	Admission    canon.AdmissionKind
}

// ipcPage mirrors the fields of sitemodel.Page the coordinator needs to
// replay a child's observations against the real Site Model, incoming
// edges included — the child's local Admit calls recorded them, and the
// replay re-applies them so edge counts match what the thread backend
// would have produced in-process.
type ipcPage struct {
	CanonicalURL    canon.CanonicalUrl
	Depth           int
	Status          sitemodel.FetchStatus
	Response        *sitemodel.ResponseMeta
	OutgoingRefs    []sitemodel.PageRef
	IncomingRefs    []sitemodel.PageRef
	ParseDiagnostic string
}

// ipcResult is one line a worker child writes back to stdout per job: every
// page its disposable Site Model recorded, and every item its disposable
// Queue admitted for further crawling.
type ipcResult struct {
	Job     ipcJob
	Pages   []ipcPage
	Admits  []queue.WorkItem
	Fatal   string // non-empty on an unrecoverable per-job error (I/O, not a fetch outcome)
}

// BuildHandshake assembles the ipcHandshake the coordinator sends to every
// worker child at spawn time, carrying everything a child needs to
// reconstruct the coordinator's own Fetcher/Parser/Policy standalone.
func BuildHandshake(cfg config.Options, policy canon.Policy, maxDepth, queueBufferSize int) ipcHandshake {
	return ipcHandshake{
		Policy:               policy,
		MaxDepth:             maxDepth,
		QueueBufferSize:      queueBufferSize,
		Strict:               cfg.Strict,
		Types:                cfg.Types,
		TimeoutNanos:         int64(cfg.Timeout),
		UserAgent:            "hatchcrawl/1.0",
		Username:             cfg.Username,
		Password:             cfg.Password,
		AllowInsecureContent: cfg.AllowInsecureContent,
		IgnoreBadTelURLs:     cfg.IgnoreBadTelURLs,
	}
}
