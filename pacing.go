package loadcore

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// pacer yields the scheduled instant for the next request attempt, or
// reports that the run has ended. The scheduled instant it returns is
// what latency correction measures duration against instead of the
// instant the request actually started, so a request delayed behind a
// slow predecessor doesn't make every later request look artificially
// fast (the classic coordinated-omission failure mode of naive timing).
type pacer interface {
	next(ctx context.Context) (scheduled time.Time, ok bool)
}

// unpacedPacer issues every token immediately: this is the closed-loop
// strategy, where a stream's own completion of the previous request is
// what paces the next one.
type unpacedPacer struct{}

func (unpacedPacer) next(ctx context.Context) (time.Time, bool) {
	select {
	case <-ctx.Done():
		return time.Time{}, false
	default:
	}
	return time.Now(), true
}

// qpsPacer paces releases with a golang.org/x/time/rate.Limiter, the same
// limiter type the session manager this scheduler is grounded on uses
// for its sessions-per-second cap. The i-th request's *intended* instant
// is still tracked independently as start + i/qps for latency
// correction: the limiter smooths release timing under contention, but
// correction needs the mathematically exact schedule, not the limiter's
// actual release time.
type qpsPacer struct {
	start   time.Time
	qps     float64
	idx     atomic.Int64
	limiter *rate.Limiter
}

func newQPSPacer(qps float64) *qpsPacer {
	return &qpsPacer{
		start:   time.Now(),
		qps:     qps,
		limiter: rate.NewLimiter(rate.Limit(qps), 1),
	}
}

func (p *qpsPacer) next(ctx context.Context) (time.Time, bool) {
	i := p.idx.Add(1) - 1
	target := p.start.Add(time.Duration(float64(i) / p.qps * float64(time.Second)))
	if err := p.limiter.Wait(ctx); err != nil {
		return time.Time{}, false
	}
	return target, true
}

// burstPacer releases BurstCount tokens at once every BurstPeriod,
// stamping every token in a batch with that batch's instant.
type burstPacer struct {
	tokens chan time.Time
}

func newBurstPacer(ctx context.Context, period time.Duration, count int) *burstPacer {
	p := &burstPacer{tokens: make(chan time.Time, count*4)}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				for i := 0; i < count; i++ {
					select {
					case p.tokens <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return p
}

func (p *burstPacer) next(ctx context.Context) (time.Time, bool) {
	select {
	case t := <-p.tokens:
		return t, true
	case <-ctx.Done():
		return time.Time{}, false
	}
}

// newPacer builds the pacer named by limit. ctx governs the burst
// pacer's background ticker goroutine lifetime.
func newPacer(ctx context.Context, limit QueryLimit) pacer {
	switch limit.Kind {
	case QPSLimit:
		return newQPSPacer(limit.QPS)
	case BurstLimit:
		return newBurstPacer(ctx, limit.BurstPeriod, limit.BurstCount)
	default:
		return unpacedPacer{}
	}
}
