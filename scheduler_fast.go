package loadcore

import (
	"context"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadcore/loadcore/internal/coresync"
	"github.com/loadcore/loadcore/internal/errors"
)

// RunFast drives the same ScheduleConfig as Scheduler.Run but with the
// "fast" layout used when no live TUI is consuming per-request results:
// one goroutine per physical core, each pinned with runtime.LockOSThread
// and running its own dial-and-request loop independently, batching
// results locally before handing them to Results so the channel send
// isn't on every single request's critical path.
//
// Go has no public API for "one goroutine per physical core" the way the
// original tool pins one OS thread per core; runtime.GOMAXPROCS(0) is
// this package's approximation, since Go's scheduler already multiplexes
// goroutines onto that many OS threads under normal (non-blocking) load.
func RunFast(ctx context.Context, cfg *ClientConfig, sched ScheduleConfig) <-chan RequestResult {
	results := make(chan RequestResult, sched.Connections*4+64)

	go func() {
		defer close(results)

		workers := runtime.GOMAXPROCS(0)
		if sched.Connections > 0 && sched.Connections < workers {
			workers = sched.Connections
		}
		if workers < 1 {
			workers = 1
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		deadline := coresync.NewClosable()
		if sched.Bound == DeadlineBound {
			timer := time.AfterFunc(sched.Duration, deadline.Close)
			defer timer.Stop()
		}
		go func() {
			select {
			case <-deadline.C():
				if sched.Termination == Abort {
					cancel()
				}
			case <-runCtx.Done():
			}
		}()

		var remaining atomic.Int64
		if sched.Bound == FixedCount {
			remaining.Store(sched.Count)
		}
		var isEnd atomic.Bool

		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			workerIdx := i
			go func() {
				defer wg.Done()
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				fastWorkerLoop(runCtx, cfg, sched, workerIdx, deadline, &remaining, &isEnd, results)
			}()
		}
		wg.Wait()
	}()

	return results
}

// fastHandle is the fast path's analogue of the engine-specific worker
// types (h1Worker, h2Conn+h2StreamTask, h3Conn+h3StreamTask): one per
// pinned goroutine, dialed once and reused across requests until a
// reconnect-classified failure or an unhealthy connection forces a redial.
type fastHandle interface {
	do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL) (status int, firstByte time.Duration, connTiming *ConnectionTime, lenBytes int64, err error)
	healthy() bool
	close()
}

type fastH1Handle struct{ w *h1Worker }

func (h *fastH1Handle) do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL) (int, time.Duration, *ConnectionTime, int64, error) {
	return h.w.do(ctx, cfg, method, u)
}
func (h *fastH1Handle) healthy() bool { return true }
func (h *fastH1Handle) close()        { h.w.close() }

type fastH2Handle struct {
	conn  *h2Conn
	first bool
}

func (h *fastH2Handle) do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL) (int, time.Duration, *ConnectionTime, int64, error) {
	task := &h2StreamTask{conn: h.conn}
	status, firstByte, connTiming, n, err := task.do(ctx, cfg, method, u, h.first)
	if err == nil {
		h.first = false
	}
	return status, firstByte, connTiming, n, err
}
func (h *fastH2Handle) healthy() bool { return h.conn.healthy() }
func (h *fastH2Handle) close()        { h.conn.close() }

type fastH3Handle struct {
	conn  *h3Conn
	first bool
}

func (h *fastH3Handle) do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL) (int, time.Duration, *ConnectionTime, int64, error) {
	task := &h3StreamTask{conn: h.conn}
	status, firstByte, connTiming, n, err := task.do(ctx, cfg, method, u, h.first)
	if err == nil {
		h.first = false
	}
	return status, firstByte, connTiming, n, err
}
func (h *fastH3Handle) healthy() bool { return h.conn.healthy() }
func (h *fastH3Handle) close()        { h.conn.close() }

// newFastHandle dials the one connection a fast worker owns for its
// lifetime, per cfg.HTTPVersion — mirroring Scheduler.runConnection's own
// HTTP1/HTTP2/HTTP3 dispatch, just without the N-connections x M-streams
// fan-out (the fast path is always one stream per worker).
func newFastHandle(ctx context.Context, cfg *ClientConfig, scheme, host string, port int) (fastHandle, error) {
	switch cfg.HTTPVersion {
	case HTTP2:
		conn, err := dialH2Conn(ctx, cfg, scheme, host, port)
		if err != nil {
			return nil, err
		}
		return &fastH2Handle{conn: conn, first: true}, nil
	case HTTP3:
		conn, err := dialH3Conn(ctx, cfg, host, port)
		if err != nil {
			return nil, err
		}
		return &fastH3Handle{conn: conn, first: true}, nil
	default:
		return &fastH1Handle{w: newH1Worker(cfg, scheme, host, port)}, nil
	}
}

// isReconnectClass classifies doErr using the protocol-appropriate
// predicate: H3 has its own is_h3_reconnect rule (H3/Io), H1 and H2 both
// use is_reconnect (Io/transport).
func isReconnectClass(cfg *ClientConfig, err error) bool {
	if cfg.HTTPVersion == HTTP3 {
		return errors.IsReconnectH3(err)
	}
	return errors.IsReconnectH2(err)
}

// fastWorkerLoop is the body one pinned goroutine runs for the life of
// the benchmark: draw a URL, dial or reuse its own connection (H1, H2, or
// H3 per cfg.HTTPVersion), issue the request, batch the result, repeat.
// Connections are not shared across fast workers the way N-connections x
// M-streams fan-out shares them in Scheduler: each fast worker owns
// exactly one connection for its own lifetime, redialing only on a
// reconnect-classified failure or a connection gone unhealthy.
func fastWorkerLoop(ctx context.Context, cfg *ClientConfig, sched ScheduleConfig, workerIdx int, deadline *coresync.Closable, remaining *atomic.Int64, isEnd *atomic.Bool, results chan<- RequestResult) {
	const batchSize = 32
	batch := make([]RequestResult, 0, batchSize)
	flush := func() {
		for _, r := range batch {
			select {
			case results <- r:
			case <-ctx.Done():
				return
			}
		}
		batch = batch[:0]
	}
	defer flush()

	ws := NewWorkerState(workerIdx, 0)
	var worker fastHandle

	for {
		if isEnd.Load() || ctx.Err() != nil || deadline.IsClosed() {
			if worker != nil {
				worker.close()
			}
			return
		}
		if sched.Bound == FixedCount && remaining.Add(-1) < 0 {
			isEnd.Store(true)
			if worker != nil {
				worker.close()
			}
			return
		}

		snap := ws.RNG.Snapshot()
		u, err := nextURL(cfg, ws.RNG)
		if err != nil {
			batch = append(batch, RequestResult{Err: errors.ClassifyAndWrap(err, "url generation")})
			if len(batch) >= batchSize {
				flush()
			}
			continue
		}

		host, port, err := hostPort(u.Host, u.Scheme)
		if err != nil {
			batch = append(batch, RequestResult{URL: u, RNG: snap, Err: errors.ClassifyAndWrap(err, "parse target")})
			continue
		}

		if worker != nil && !worker.healthy() {
			worker.close()
			worker = nil
		}
		if worker == nil {
			worker, err = newFastHandle(ctx, cfg, u.Scheme, host, port)
			if err != nil {
				batch = append(batch, RequestResult{URL: u, RNG: snap, Err: errors.ClassifyAndWrap(err, "dial")})
				if len(batch) >= batchSize {
					flush()
				}
				continue
			}
		}

		reqCtx := ctx
		var reqCancel context.CancelFunc
		if cfg.Timeout > 0 {
			reqCtx, reqCancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		start := time.Now()
		status, firstByte, connTiming, n, doErr := worker.do(reqCtx, cfg, cfg.Method, u)
		if reqCancel != nil {
			reqCancel()
		}

		batch = append(batch, RequestResult{
			Status:         status,
			Err:            errAsError(doErr),
			Duration:       time.Since(start),
			ConnectionTime: connTiming,
			FirstByte:      firstByte,
			URL:            u,
			RNG:            snap,
			LenBytes:       n,
		})
		if len(batch) >= batchSize {
			flush()
		}

		if doErr != nil && errors.IsCancel(doErr) {
			isEnd.Store(true)
			worker.close()
			return
		}
		if doErr != nil && isReconnectClass(cfg, doErr) {
			worker.close()
			worker = nil
		}
	}
}
