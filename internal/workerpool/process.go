package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hatchworks/hatchcrawl/internal/extract"
	"github.com/hatchworks/hatchcrawl/internal/fetch"
	"github.com/hatchworks/hatchcrawl/internal/queue"
	"github.com/hatchworks/hatchcrawl/internal/sitemodel"
)

// WorkerSubcommand is the hidden subcommand name cmd/hatchcrawl registers
// so the process backend can re-exec the running binary as a stateless
// child speaking JSON lines over stdio.
const WorkerSubcommand = "__worker"

// ProcessPool runs Workers copies of the current executable re-invoked
// with WorkerSubcommand, feeding each one job at a time over its stdin and
// reading back one ipcResult line per job over its stdout. No memory is
// shared between the coordinator and its children, or between children.
type ProcessPool struct {
	Processor  *Processor
	Workers    int
	Executable string // os.Args[0] by default, overridable for tests
	Handshake  ipcHandshake

	mu       sync.Mutex
	children []*workerChild
}

type workerChild struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
}

func (pp *ProcessPool) executable() string {
	if pp.Executable != "" {
		return pp.Executable
	}
	return os.Args[0]
}

func (pp *ProcessPool) spawn() (*workerChild, error) {
	cmd := exec.Command(pp.executable(), WorkerSubcommand)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	wc := &workerChild{cmd: cmd, stdin: stdin, stdout: bufio.NewScanner(stdout)}
	wc.stdout.Buffer(make([]byte, 64*1024), 16*1024*1024)

	enc := json.NewEncoder(stdin)
	if err := enc.Encode(pp.Handshake); err != nil {
		return nil, fmt.Errorf("workerpool: handshake: %w", err)
	}
	return wc, nil
}

// Run spawns Workers children and gives each its own goroutine draining the
// shared queue, so up to Workers jobs are in flight at once — the same shape
// as the thread backend, except the per-item work happens in the child and
// the goroutine only replays the child's reported observations against the
// real (shared) Site Model and Queue. Each child is owned by exactly one
// goroutine, so its stdin/stdout pipes never see interleaved writes.
func (pp *ProcessPool) Run(ctx context.Context) error {
	if pp.Workers < 1 {
		pp.Workers = 1
	}

	children := make([]*workerChild, 0, pp.Workers)
	for i := 0; i < pp.Workers; i++ {
		c, err := pp.spawn()
		if err != nil {
			pp.killAll(children)
			return fmt.Errorf("workerpool: spawning worker %d: %w", i, err)
		}
		children = append(children, c)
	}
	pp.mu.Lock()
	pp.children = children
	pp.mu.Unlock()
	defer pp.killAll(children)

	items := pp.Processor.Queue.Items()
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case item, ok := <-items:
					if !ok {
						return nil
					}
					if err := pp.roundTrip(child, item); err != nil {
						return err
					}
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (pp *ProcessPool) roundTrip(c *workerChild, item queue.WorkItem) error {
	pp.Processor.MarkInFlight(item)

	job := ipcJob{CanonicalURL: item.CanonicalURL, Depth: item.Depth, Admission: item.Admission}
	enc := json.NewEncoder(c.stdin)
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("workerpool: writing job: %w", err)
	}

	if !c.stdout.Scan() {
		return fmt.Errorf("workerpool: worker closed stdout: %w", c.stdout.Err())
	}
	var res ipcResult
	if err := json.Unmarshal(c.stdout.Bytes(), &res); err != nil {
		return fmt.Errorf("workerpool: decoding result: %w", err)
	}
	if res.Fatal != "" {
		return fmt.Errorf("workerpool: worker reported fatal error: %s", res.Fatal)
	}

	pp.replay(res)
	if page := pp.Processor.Site.Get(item.CanonicalURL); page != nil && pp.Processor.Reporter != nil {
		pp.Processor.Reporter.OnPageDone(*page)
	}
	pp.Processor.Queue.Done()
	return nil
}

// replay applies a child's disposable-model observations to the real Site
// Model and Queue. The admits replay first: the real queue's Admit must
// make the dedup decision against the live page map, so the Pending pages
// the child created for not-yet-fetched links must not exist yet when it
// runs — creating them first would make Admit observe wasNew=false and
// strand every discovered link unfetched. Incoming-ref bookkeeping rides
// with the Pages loop below (each observed edge re-applied through
// GetOrCreate), which is why Admit gets a nil origin here.
func (pp *ProcessPool) replay(res ipcResult) {
	site := pp.Processor.Site
	for _, item := range res.Admits {
		pp.Processor.Queue.Admit(item.CanonicalURL, item.Depth, nil)
	}
	for _, pg := range res.Pages {
		if pg.CanonicalURL == res.Job.CanonicalURL {
			site.SetStatus(pg.CanonicalURL, pg.Status, pg.Response)
			if pg.ParseDiagnostic != "" {
				site.SetParseDiagnostic(pg.CanonicalURL, pg.ParseDiagnostic)
			}
			if len(pg.OutgoingRefs) > 0 {
				site.RecordRefs(pg.CanonicalURL, pg.OutgoingRefs)
			}
			continue
		}

		_, wasNew := site.GetOrCreate(pg.CanonicalURL, pg.Depth, nil)
		for i := range pg.IncomingRefs {
			site.GetOrCreate(pg.CanonicalURL, pg.Depth, &pg.IncomingRefs[i])
		}
		if !wasNew || pg.Status.Kind == sitemodel.Pending {
			// A Pending page is the child's local stand-in for a link it
			// discovered but never fetched; the Admits loop above already
			// decided its fate. A page the real model already knows keeps
			// its real status — the child's local view of it (a deeper
			// depth skip, say) must not regress a recorded outcome.
			continue
		}
		site.SetStatus(pg.CanonicalURL, pg.Status, pg.Response)
		if pg.ParseDiagnostic != "" {
			site.SetParseDiagnostic(pg.CanonicalURL, pg.ParseDiagnostic)
		}
		if len(pg.OutgoingRefs) > 0 {
			site.RecordRefs(pg.CanonicalURL, pg.OutgoingRefs)
		}
	}
}

func (pp *ProcessPool) killAll(children []*workerChild) {
	for _, c := range children {
		c.stdin.Close()
		_ = c.cmd.Wait()
	}
}

func (pp *ProcessPool) Close() error {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.killAll(pp.children)
	pp.children = nil
	return nil
}

// RunWorkerChild is the body of the hidden __worker subcommand
// (cmd/hatchcrawl/worker.go): it reads one ipcHandshake line, then loops
// reading one ipcJob per line from in, processing it against a disposable
// Site Model and Queue, and writing back one ipcResult line to out, until
// in is closed.
func RunWorkerChild(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return fmt.Errorf("workerpool: worker child received no handshake")
	}
	var hs ipcHandshake
	if err := json.Unmarshal(scanner.Bytes(), &hs); err != nil {
		return fmt.Errorf("workerpool: decoding handshake: %w", err)
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:              time.Duration(hs.TimeoutNanos),
		UserAgent:            hs.UserAgent,
		AllowInsecureContent: hs.AllowInsecureContent,
		Username:             hs.Username,
		Password:             hs.Password,
		Policy:               hs.Policy,
	})
	tagAttrs := extract.DefaultTagAttrs
	if len(hs.Types) > 0 {
		tagAttrs = map[string]string{}
		for _, t := range hs.Types {
			if attr, ok := extract.DefaultTagAttrs[t]; ok {
				tagAttrs[t] = attr
			}
		}
	}
	parser := &extract.GoqueryParser{TagAttrs: tagAttrs, Strict: hs.Strict}

	enc := json.NewEncoder(out)
	for scanner.Scan() {
		var job ipcJob
		if err := json.Unmarshal(scanner.Bytes(), &job); err != nil {
			enc.Encode(ipcResult{Fatal: err.Error()})
			continue
		}
		res := processJobStandalone(job, hs, fetcher, parser)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("workerpool: writing result: %w", err)
		}
	}
	return scanner.Err()
}

// processJobStandalone runs one job through a disposable Site Model/Queue
// pair using the exact same Processor logic the in-process backends use,
// then captures what that disposable model observed.
func processJobStandalone(job ipcJob, hs ipcHandshake, fetcher fetch.Fetcher, parser extract.Parser) ipcResult {
	localSite := sitemodel.New()
	localQueue := queue.New(localSite, hs.QueueBufferSize, hs.MaxDepth, hs.Policy)
	localSite.GetOrCreate(job.CanonicalURL, job.Depth, nil)
	localQueue.Seed()

	proc := &Processor{
		Fetcher:          fetcher,
		Parser:           parser,
		Queue:            localQueue,
		Site:             localSite,
		IgnoreBadTelURLs: hs.IgnoreBadTelURLs,
	}
	proc.ProcessItem(context.Background(), queue.WorkItem{
		CanonicalURL: job.CanonicalURL,
		Depth:        job.Depth,
		Admission:    job.Admission,
	})

	snap := localSite.Snapshot()
	res := ipcResult{Job: job}
	for u, pg := range snap.Pages {
		diag := ""
		if pg.ParseDiagnostic != nil {
			diag = pg.ParseDiagnostic.Message
		}
		res.Pages = append(res.Pages, ipcPage{
			CanonicalURL:    u,
			Depth:           pg.Depth,
			Status:          pg.Status,
			Response:        pg.Response,
			OutgoingRefs:    pg.OutgoingRefs,
			IncomingRefs:    pg.IncomingRefs,
			ParseDiagnostic: diag,
		})
	}
	localQueue.Close()
	for item := range localQueue.Items() {
		res.Admits = append(res.Admits, item)
	}
	return res
}
