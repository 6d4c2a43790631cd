package loadcore

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loadcore/loadcore/internal/backoff"
	"github.com/loadcore/loadcore/internal/coresync"
	"github.com/loadcore/loadcore/internal/errors"
	"github.com/loadcore/loadcore/internal/randutil"
)

// ProductionBound selects whether a run issues a fixed number of requests
// (closed-loop size) or runs for a fixed wall-clock duration (open-loop
// size), the two production modes of the workload scheduler.
type ProductionBound int

const (
	// FixedCount runs until Count requests have been attempted in total,
	// across every connection and stream.
	FixedCount ProductionBound = iota
	// DeadlineBound runs for Duration, regardless of how many requests
	// that produces.
	DeadlineBound
)

// TerminationMode controls what happens to in-flight requests once a
// FixedCount/DeadlineBound run has been satisfied.
type TerminationMode int

const (
	// Drain lets in-flight requests finish naturally; no new request is
	// started once the bound is reached.
	Drain TerminationMode = iota
	// Abort cancels every in-flight request's context immediately.
	Abort
)

// ScheduleConfig is the workload scheduler's own configuration, layered
// on top of ClientConfig (which describes one request), describing how
// many requests to issue, how many connections and streams to fan out
// across, and how fast to issue them.
type ScheduleConfig struct {
	Connections    int
	StreamsPerConn int // ignored (treated as 1) for HTTP1

	Bound    ProductionBound
	Count    int64         // used when Bound == FixedCount
	Duration time.Duration // used when Bound == DeadlineBound

	Limit       QueryLimit
	Termination TerminationMode
}

// Scheduler drives a ClientConfig's requests according to a
// ScheduleConfig, emitting one RequestResult per attempt onto Results.
// Each send blocks until Results accepts it, so no result is dropped.
// Scheduler does not aggregate, summarize, or persist results itself.
type Scheduler struct {
	cfg     *ClientConfig
	sched   ScheduleConfig
	Results chan<- RequestResult
}

func NewScheduler(cfg *ClientConfig, sched ScheduleConfig, results chan<- RequestResult) *Scheduler {
	if sched.StreamsPerConn < 1 {
		sched.StreamsPerConn = 1
	}
	return &Scheduler{cfg: cfg, sched: sched, Results: results}
}

// Run fans out Connections connection-workers, each owning
// StreamsPerConn stream-tasks (1 for HTTP/1.1, since it cannot multiplex
// a connection), and blocks until the production bound is satisfied and
// every worker has wound down.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := coresync.NewClosable()
	if s.sched.Bound == DeadlineBound {
		timer := time.AfterFunc(s.sched.Duration, deadline.Close)
		defer timer.Stop()
	}

	var remaining atomic.Int64
	if s.sched.Bound == FixedCount {
		remaining.Store(s.sched.Count)
	}

	go func() {
		select {
		case <-deadline.C():
			if s.sched.Termination == Abort {
				cancel()
			}
		case <-runCtx.Done():
		}
	}()

	pc := newPacer(runCtx, s.sched.Limit)

	g, gctx := errgroup.WithContext(runCtx)
	for c := 0; c < s.sched.Connections; c++ {
		connIndex := c
		g.Go(func() error {
			return s.runConnection(gctx, connIndex, deadline, pc, &remaining)
		})
	}
	return g.Wait()
}

// runConnection implements the DIAL -> SPAWN_M_STREAMS -> JOIN_STREAMS
// state machine: establish the connection-worker's transport once, then
// run StreamsPerConn stream-tasks against it concurrently, redialing on
// reconnect-classified failures without tearing down the whole worker.
func (s *Scheduler) runConnection(ctx context.Context, connIndex int, deadline *coresync.Closable, pc pacer, remaining *atomic.Int64) error {
	bo := backoff.Default()
	for {
		if ctx.Err() != nil {
			return nil
		}

		u, err := s.cfg.URLGen.Generate(randutil.NewWorkerRand().Rand())
		if err != nil {
			return nil
		}
		scheme := u.Scheme
		host, port, err := hostPort(u.Host, scheme)
		if err != nil {
			return nil
		}

		var landedRequest bool
		switch s.cfg.HTTPVersion {
		case HTTP2:
			err, landedRequest = s.runH2Connection(ctx, connIndex, scheme, host, port, deadline, pc, remaining)
		case HTTP3:
			err, landedRequest = s.runH3Connection(ctx, connIndex, host, port, deadline, pc, remaining)
		default:
			err, landedRequest = s.runH1Connection(ctx, connIndex, scheme, host, port, deadline, pc, remaining)
		}

		if err == nil || !errors.IsReconnectH2(err) && !errors.IsReconnectH3(err) {
			return nil
		}
		if errors.IsCancel(err) {
			return nil
		}
		if landedRequest {
			bo.Reset()
		}

		select {
		case <-time.After(bo.Next()):
		case <-ctx.Done():
			return nil
		}
		// reconnect-classified: loop around and redial.
	}
}

func (s *Scheduler) runH1Connection(ctx context.Context, connIndex int, scheme, host string, port int, deadline *coresync.Closable, pc pacer, remaining *atomic.Int64) (error, bool) {
	w := newH1Worker(s.cfg, scheme, host, port)
	defer w.close()

	ws := NewWorkerState(connIndex, 0)
	ws.KeepAlive = s.cfg.KeepAlive

	landed := false
	for {
		if !s.acquireSlot(remaining) {
			return nil, landed
		}
		if !s.shouldContinue(ctx, deadline) {
			return nil, landed
		}
		scheduled, ok := pc.next(ctx)
		if !ok {
			return nil, landed
		}

		snap := ws.RNG.Snapshot()
		u, err := nextURL(s.cfg, ws.RNG)
		if err != nil {
			s.emit(RequestResult{Err: errors.ClassifyAndWrap(err, "url generation")})
			continue
		}

		reqCtx := ctx
		var reqCancel context.CancelFunc
		if s.cfg.Timeout > 0 {
			reqCtx, reqCancel = context.WithTimeout(ctx, s.cfg.Timeout)
		}
		status, firstByte, connTiming, n, err := w.do(reqCtx, s.cfg, s.cfg.Method, u)
		if reqCancel != nil {
			reqCancel()
		}
		if err == nil {
			landed = true
		}

		s.emit(RequestResult{
			Status:         status,
			Err:            errAsError(err),
			Duration:       time.Since(scheduled),
			ConnectionTime: connTiming,
			FirstByte:      firstByte,
			URL:            u,
			RNG:            snap,
			LenBytes:       n,
		})

		if err != nil && errors.IsReconnectH2(err) {
			return err, landed
		}
	}
}

func (s *Scheduler) runH2Connection(ctx context.Context, connIndex int, scheme, host string, port int, deadline *coresync.Closable, pc pacer, remaining *atomic.Int64) (error, bool) {
	conn, err := dialH2Conn(ctx, s.cfg, scheme, host, port)
	if err != nil {
		s.emit(RequestResult{Err: errors.ClassifyAndWrap(err, "h2 dial")})
		return err, false
	}
	defer conn.close()

	var landed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for m := 0; m < s.sched.StreamsPerConn; m++ {
		streamIndex := m
		g.Go(func() error {
			return s.runH2Stream(gctx, connIndex, streamIndex, conn, deadline, pc, remaining, &landed)
		})
	}
	return g.Wait(), landed.Load()
}

func (s *Scheduler) runH2Stream(ctx context.Context, connIndex, streamIndex int, conn *h2Conn, deadline *coresync.Closable, pc pacer, remaining *atomic.Int64, landed *atomic.Bool) error {
	ws := NewWorkerState(connIndex, streamIndex)
	first := true
	for {
		if !s.acquireSlot(remaining) {
			return nil
		}
		if !s.shouldContinue(ctx, deadline) {
			return nil
		}
		scheduled, ok := pc.next(ctx)
		if !ok {
			return nil
		}
		if !conn.healthy() {
			return errors.New(errors.KindTransport, "h2 connection no longer healthy")
		}

		snap := ws.RNG.Snapshot()
		u, err := nextURL(s.cfg, ws.RNG)
		if err != nil {
			s.emit(RequestResult{Err: errors.ClassifyAndWrap(err, "url generation")})
			continue
		}

		task := &h2StreamTask{conn: conn}
		reqCtx := ctx
		var reqCancel context.CancelFunc
		if s.cfg.Timeout > 0 {
			reqCtx, reqCancel = context.WithTimeout(ctx, s.cfg.Timeout)
		}
		status, firstByte, connTiming, n, err := task.do(reqCtx, s.cfg, s.cfg.Method, u, first)
		if reqCancel != nil {
			reqCancel()
		}
		if err == nil {
			first = false
			landed.Store(true)
		}

		s.emit(RequestResult{
			Status:         status,
			Err:            errAsError(err),
			Duration:       time.Since(scheduled),
			ConnectionTime: connTiming,
			FirstByte:      firstByte,
			URL:            u,
			RNG:            snap,
			LenBytes:       n,
		})

		if err != nil && errors.IsReconnectH2(err) {
			return err
		}
	}
}

func (s *Scheduler) runH3Connection(ctx context.Context, connIndex int, host string, port int, deadline *coresync.Closable, pc pacer, remaining *atomic.Int64) (error, bool) {
	conn, err := dialH3Conn(ctx, s.cfg, host, port)
	if err != nil {
		s.emit(RequestResult{Err: errors.ClassifyAndWrap(err, "h3 dial")})
		return err, false
	}
	defer conn.close()

	var landed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for m := 0; m < s.sched.StreamsPerConn; m++ {
		streamIndex := m
		g.Go(func() error {
			return s.runH3Stream(gctx, connIndex, streamIndex, conn, deadline, pc, remaining, &landed)
		})
	}
	return g.Wait(), landed.Load()
}

func (s *Scheduler) runH3Stream(ctx context.Context, connIndex, streamIndex int, conn *h3Conn, deadline *coresync.Closable, pc pacer, remaining *atomic.Int64, landed *atomic.Bool) error {
	ws := NewWorkerState(connIndex, streamIndex)
	first := true
	for {
		if !s.acquireSlot(remaining) {
			return nil
		}
		if !s.shouldContinue(ctx, deadline) {
			return nil
		}
		scheduled, ok := pc.next(ctx)
		if !ok {
			return nil
		}
		if !conn.healthy() {
			return errors.New(errors.KindH3, "h3 connection no longer healthy")
		}

		snap := ws.RNG.Snapshot()
		u, err := nextURL(s.cfg, ws.RNG)
		if err != nil {
			s.emit(RequestResult{Err: errors.ClassifyAndWrap(err, "url generation")})
			continue
		}

		task := &h3StreamTask{conn: conn}
		reqCtx := ctx
		var reqCancel context.CancelFunc
		if s.cfg.Timeout > 0 {
			reqCtx, reqCancel = context.WithTimeout(ctx, s.cfg.Timeout)
		}
		status, firstByte, connTiming, n, err := task.do(reqCtx, s.cfg, s.cfg.Method, u, first)
		if reqCancel != nil {
			reqCancel()
		}
		if err == nil {
			first = false
			landed.Store(true)
		}

		s.emit(RequestResult{
			Status:         status,
			Err:            errAsError(err),
			Duration:       time.Since(scheduled),
			ConnectionTime: connTiming,
			FirstByte:      firstByte,
			URL:            u,
			RNG:            snap,
			LenBytes:       n,
		})

		if err != nil && errors.IsReconnectH3(err) {
			return err
		}
	}
}

// acquireSlot implements the decrement-before-attempt convention for
// FixedCount runs: a stream claims its slot before dialing/sending, so a
// slot is never double-spent across racing streams. Always true for
// DeadlineBound runs, which are bounded by the deadline Closable instead.
func (s *Scheduler) acquireSlot(remaining *atomic.Int64) bool {
	if s.sched.Bound != FixedCount {
		return true
	}
	return remaining.Add(-1) >= 0
}

// shouldContinue reports whether a stream may start a new request: always
// true until the deadline fires, after which only Drain-mode callers that
// haven't yet observed it may slip one more request through the race
// window between the check and the dial — acceptable since Drain's whole
// point is to let in-flight work finish rather than guarantee an exact
// cutoff instant.
func (s *Scheduler) shouldContinue(ctx context.Context, deadline *coresync.Closable) bool {
	if ctx.Err() != nil {
		return false
	}
	return !deadline.IsClosed()
}

func (s *Scheduler) emit(r RequestResult) {
	if s.Results == nil {
		return
	}
	s.Results <- r
}

func errAsError(err error) *errors.Error {
	if err == nil {
		return nil
	}
	if wrapped, ok := err.(*errors.Error); ok {
		return wrapped
	}
	return errors.ClassifyAndWrap(err, "")
}
