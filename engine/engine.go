// Package engine owns the request queue and the fetch-and-dispatch cycle
// that drives a scraper to completion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/fetch"
	"github.com/Brennan-Chesley-FLP/kent/generator"
	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

// Run completion statuses reported to OnRunComplete.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Driver executes one scraper. WorkCount selects the flavor: 1 runs the
// serial loop (cancellation drains the queue), >1 runs a cooperative
// worker pool over a shared queue (cancellation lets each worker finish
// its current request and keeps the rest queued).
//
// A Driver is single-use: construct, Run once, discard.
type Driver struct {
	scraper     *scraper.Scraper
	fetcher     fetch.Manager
	ownsFetcher bool
	runID       string

	pushReq func(req *scrape.Request, priority int)

	seenMu sync.Mutex
	seen   map[string]bool

	specMu sync.Mutex
	specs  map[string]*specState

	options
}

// New builds a driver for the scraper. Without WithFetcher the driver
// owns a plain fetch manager configured with the scraper's TLS config.
func New(sc *scraper.Scraper, opts ...Option) *Driver {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	d := &Driver{
		scraper: sc,
		seen:    make(map[string]bool, 100),
		specs:   map[string]*specState{},
		options: options,
	}

	if d.Fetcher != nil {
		d.fetcher = d.Fetcher
	} else {
		d.fetcher = fetch.NewSyncManager(
			fetch.WithLogger(d.Logger),
			fetch.WithTLSConfig(sc.TLSConfig),
		)
		d.ownsFetcher = true
	}

	if node, err := generator.NewNode(d.NodeID); err == nil {
		d.runID = node.Generate().String()
	}

	return d
}

// RunID identifies this run in logs and storage rows.
func (d *Driver) RunID() string { return d.runID }

// Run processes the scraper to completion. It returns only when the queue
// is empty, the context is cancelled, or a failure propagates past every
// callback. OnRunComplete fires on every exit path.
func (d *Driver) Run(ctx context.Context) (err error) {
	name := d.scraper.Name
	if d.OnRunStart != nil {
		d.OnRunStart(name)
	}
	d.Logger.Info("run starting",
		zap.String("scraper", name),
		zap.String("run_id", d.runID),
		zap.Int("workers", d.WorkCount))

	defer func() {
		if d.ownsFetcher {
			d.fetcher.Close()
		}
		if flusher, ok := d.Storage.(interface{ Flush() error }); ok && d.Storage != nil {
			if ferr := flusher.Flush(); ferr != nil {
				d.Logger.Error("storage flush failed", zap.Error(ferr))
			}
		}
		status := StatusCompleted
		if err != nil {
			status = StatusError
		}
		d.Logger.Info("run complete",
			zap.String("scraper", name),
			zap.String("status", status),
			zap.Error(err))
		if d.OnRunComplete != nil {
			d.OnRunComplete(name, status, err)
		}
	}()

	if verr := d.scraper.Validate(); verr != nil {
		return verr
	}

	parallel := d.WorkCount > 1
	var serialQ *requestQueue
	var lockedQ *lockedQueue
	if parallel {
		lockedQ = newLockedQueue()
		d.pushReq = lockedQ.push
	} else {
		serialQ = newRequestQueue()
		d.pushReq = serialQ.push
	}

	if err = d.seed(); err != nil {
		return err
	}

	if parallel {
		err = d.runParallel(ctx, lockedQ)
	} else {
		err = d.runSerial(ctx, serialQ)
	}
	if errors.Is(err, scrape.ErrHalt) {
		// A callback asked for a graceful stop; not a run failure.
		err = nil
	}
	return err
}

// seed enqueues the entry requests and the speculative probes.
func (d *Driver) seed() error {
	invocations := d.Invocations
	if invocations == nil {
		invocations = d.scraper.DefaultInvocations()
	}
	if len(invocations) > 0 {
		seeds, err := d.scraper.InitialSeed(invocations)
		if err != nil {
			return err
		}
		for _, req := range seeds {
			d.enqueue(req.Normalize())
		}
	}

	d.initSpeculation()
	d.seedSpeculators()
	return nil
}

func (d *Driver) runSerial(ctx context.Context, q *requestQueue) error {
	for q.len() > 0 {
		if ctx.Err() != nil {
			// Stop immediately: discard everything pending.
			for q.len() > 0 {
				q.pop()
			}
			d.Logger.Info("cancellation observed, queue drained")
			return nil
		}
		req := q.pop()
		if err := d.process(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runParallel(ctx context.Context, q *lockedQueue) error {
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.close()
		case <-watcherDone:
		}
	}()
	defer close(watcherDone)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for i := 0; i < d.WorkCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				req, ok := q.pop()
				if !ok {
					return
				}
				err := d.process(ctx, req)
				q.done()
				if err != nil {
					mu.Lock()
					if fatal == nil {
						fatal = err
					}
					mu.Unlock()
					q.close()
					return
				}
			}
		}(i)
	}

	wg.Wait()
	return fatal
}

// process runs one fetch-and-dispatch cycle. A nil return moves on to the
// next request; scrape.ErrHalt stops the run gracefully; anything else is
// fatal.
func (d *Driver) process(ctx context.Context, req *scrape.Request) error {
	resp, archResp, err := d.resolve(ctx, req)
	if err != nil {
		if scrape.IsTransient(err) {
			if req.IsSpeculative() {
				// An unfetchable probe counts as an absence.
				d.specOutcome(req.Speculation.Speculator, req.Speculation.ID, false)
			}
			if d.OnTransientException != nil {
				if d.OnTransientException(err) {
					d.Logger.Warn("transient failure skipped",
						zap.String("url", req.HTTP.URL), zap.Error(err))
					return nil
				}
				return scrape.ErrHalt
			}
		}
		return err
	}

	if req.IsSpeculative() {
		success := resp.OK() && !d.scraper.SoftFailure(resp)
		d.specOutcome(req.Speculation.Speculator, req.Speculation.ID, success)
	}

	step, err := d.scraper.Continuation(req.Continuation)
	if err != nil {
		return err
	}

	var sctx *scraper.Context
	var resolveCtx scrape.ResolutionContext = resp
	if archResp != nil {
		sctx = scraper.NewArchiveContext(archResp, step)
		resolveCtx = archResp
	} else {
		sctx = scraper.NewContext(resp, step)
	}

	err = step.Fn(sctx, func(item any) error {
		return d.dispatch(item, resolveCtx, req, step)
	})
	if err != nil {
		if errors.Is(err, scrape.ErrHalt) {
			return err
		}
		if errors.Is(err, scrape.ErrSkip) {
			return nil
		}
		if scrape.IsAssumption(err) {
			if d.OnStructuralError != nil {
				if d.OnStructuralError(err) {
					d.Logger.Warn("structural failure skipped",
						zap.String("url", req.HTTP.URL),
						zap.String("step", req.Continuation),
						zap.Error(err))
					return nil
				}
				return scrape.ErrHalt
			}
		}
		return err
	}
	return nil
}

// resolve fetches the request. Archive requests additionally run the
// archive sink and come back as an ArchiveResponse.
func (d *Driver) resolve(ctx context.Context, req *scrape.Request) (*scrape.Response, *scrape.ArchiveResponse, error) {
	resp, err := d.fetcher.Resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !req.Archive {
		return resp, nil, nil
	}

	sink := d.OnArchive
	if sink == nil {
		sink = DefaultArchive
	}
	fileURL, err := sink(resp.Content, req.HTTP.URL, req.ExpectedType, d.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("archive %s: %w", req.HTTP.URL, err)
	}
	archResp := &scrape.ArchiveResponse{Response: *resp, FileURL: fileURL}
	return &archResp.Response, archResp, nil
}

// dispatch routes one yielded item: data to the data path, requests back
// to the queue, nil to the void.
func (d *Driver) dispatch(item any, resolveCtx scrape.ResolutionContext, parent *scrape.Request, step *scraper.Step) error {
	switch it := item.(type) {
	case nil:
		return nil
	case scrape.ParsedData:
		return d.handleData(it.Unwrap(), parent, step)
	case *scrape.ParsedData:
		if it == nil {
			return nil
		}
		return d.handleData(it.Unwrap(), parent, step)
	case *scrape.Request:
		rctx := resolveCtx
		if it.NonNavigating && !it.Archive {
			// Non-navigating fetches resolve against the parent request so
			// the chain's location is preserved.
			rctx = parent
		}
		resolved, err := it.ResolveFrom(rctx)
		if err != nil {
			return err
		}
		d.applyPriority(resolved, step)
		d.enqueue(resolved)
		return nil
	default:
		return scrape.NewAssumptionError(
			fmt.Sprintf("step %q yielded unsupported item type %T", step.Name, item),
			parent.HTTP.URL, nil)
	}
}

// handleData confirms deferred validation, then delivers the datum.
func (d *Driver) handleData(data any, parent *scrape.Request, step *scraper.Step) error {
	if deferred, ok := data.(*scrape.DeferredValidation); ok {
		validated, err := deferred.Confirm()
		if err != nil {
			if d.OnInvalidData != nil {
				d.OnInvalidData(deferred)
				return nil
			}
			return err
		}
		d.deliver(validated, deferred.Model, parent, step)
		return nil
	}
	d.deliver(data, nil, parent, step)
	return nil
}

func (d *Driver) deliver(data any, model *scrape.Model, parent *scrape.Request, step *scraper.Step) {
	if d.OnData != nil {
		d.OnData(data)
	}
	if d.Storage != nil {
		doc, ok := data.(map[string]any)
		if !ok {
			return
		}
		cell := &scrape.DataCell{
			Scraper: d.scraper.Name,
			Step:    step.Name,
			RunID:   d.runID,
			URL:     parent.HTTP.URL,
			Time:    time.Now().Format("2006-01-02 15:04:05"),
			Model:   model,
			Data:    doc,
		}
		if err := d.Storage.Save(cell); err != nil {
			d.Logger.Error("storage save failed",
				zap.String("url", cell.URL), zap.Error(err))
		}
	}
}

// applyPriority resolves a request's effective queue priority: its own if
// set, else the archive default, else the yielding step's default.
func (d *Driver) applyPriority(req *scrape.Request, step *scraper.Step) {
	if req.Priority != 0 {
		return
	}
	if req.Archive {
		req.Priority = scrape.ArchivePriority
		return
	}
	if step != nil {
		req.Priority = step.EffectivePriority()
		return
	}
	req.Priority = scrape.DefaultPriority
}

// enqueue runs the dedup filter and pushes the request. A deduplicated
// speculative request is fed back to the speculation engine as a failure
// so aliased URLs cannot extend probing forever.
func (d *Driver) enqueue(req *scrape.Request) {
	if d.tryEnqueue(req) {
		return
	}
	d.Logger.Debug("duplicate request skipped",
		zap.String("url", req.HTTP.URL), zap.String("key", req.DedupKey))
	if req.IsSpeculative() {
		d.specOutcome(req.Speculation.Speculator, req.Speculation.ID, false)
	}
}

// tryEnqueue consults the dedup predicate and pushes on success. It never
// touches speculation state, so it is safe under specMu.
func (d *Driver) tryEnqueue(req *scrape.Request) bool {
	if !req.SkipDedup && req.DedupKey != "" {
		allowed := false
		if d.DuplicateCheck != nil {
			allowed = d.DuplicateCheck(req.DedupKey)
		} else {
			d.seenMu.Lock()
			if !d.seen[req.DedupKey] {
				d.seen[req.DedupKey] = true
				allowed = true
			}
			d.seenMu.Unlock()
		}
		if !allowed {
			return false
		}
	}
	if req.Priority == 0 {
		d.applyPriority(req, d.stepFor(req))
	}
	d.pushReq(req, req.Priority)
	return true
}

func (d *Driver) stepFor(req *scrape.Request) *scraper.Step {
	if step, ok := d.scraper.Steps[req.Continuation]; ok {
		return step
	}
	return nil
}
