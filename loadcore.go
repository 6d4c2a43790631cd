package loadcore

import (
	"context"
	"net/url"

	"github.com/loadcore/loadcore/internal/errors"
)

func parseURLOrWrap(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(errors.KindURLParse, err, "parse url")
	}
	return u, nil
}

// Client is the load-generation core's public entry point: given a
// ClientConfig describing one request and a ScheduleConfig describing
// how to fan it out over time, it drives the target and streams
// RequestResults to the caller.
type Client struct {
	cfg *ClientConfig
}

// NewClient wraps cfg. Collaborators left nil on cfg fall back to this
// package's minimal defaults (DefaultResolver, NoopSigner,
// InsecureTLSConfigFactory). URLGen has no default and is not checked
// here: Run needs it, Do does not, and NewClient never returns an error.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg.Resolver == nil {
		cfg.Resolver = DefaultResolver{}
	}
	if cfg.Signer == nil {
		cfg.Signer = NoopSigner{}
	}
	if cfg.TLSConfigFactory == nil {
		cfg.TLSConfigFactory = InsecureTLSConfigFactory{}
	}
	return &Client{cfg: cfg}, nil
}

// Do issues exactly one request against u, bypassing the scheduler
// entirely. This is the package's single-shot entry point, used for a
// warm-up probe or a one-off check outside of a full benchmark run.
func (c *Client) Do(ctx context.Context, u string) (RequestResult, error) {
	parsed, err := parseURLOrWrap(u)
	if err != nil {
		return RequestResult{}, err
	}
	host, port, err := hostPort(parsed.Host, parsed.Scheme)
	if err != nil {
		return RequestResult{}, err
	}

	switch c.cfg.HTTPVersion {
	case HTTP2:
		conn, err := dialH2Conn(ctx, c.cfg, parsed.Scheme, host, port)
		if err != nil {
			return RequestResult{}, err
		}
		defer conn.close()
		task := &h2StreamTask{conn: conn}
		status, firstByte, timing, n, err := task.do(ctx, c.cfg, c.cfg.Method, parsed, true)
		return RequestResult{Status: status, FirstByte: firstByte, ConnectionTime: timing, URL: parsed, LenBytes: n}, err
	case HTTP3:
		conn, err := dialH3Conn(ctx, c.cfg, host, port)
		if err != nil {
			return RequestResult{}, err
		}
		defer conn.close()
		task := &h3StreamTask{conn: conn}
		status, firstByte, timing, n, err := task.do(ctx, c.cfg, c.cfg.Method, parsed, true)
		return RequestResult{Status: status, FirstByte: firstByte, ConnectionTime: timing, URL: parsed, LenBytes: n}, err
	default:
		w := newH1Worker(c.cfg, parsed.Scheme, host, port)
		defer w.close()
		status, firstByte, timing, n, err := w.do(ctx, c.cfg, c.cfg.Method, parsed)
		return RequestResult{Status: status, FirstByte: firstByte, ConnectionTime: timing, URL: parsed, LenBytes: n}, err
	}
}

// Run starts a full scheduled benchmark and returns a channel of results.
// It is a thin convenience wrapper over Scheduler/RunFast; callers that
// need the TUI-facing per-request channel directly should use Scheduler.
func (c *Client) Run(ctx context.Context, sched ScheduleConfig, useFastPath bool) <-chan RequestResult {
	if useFastPath {
		return RunFast(ctx, c.cfg, sched)
	}
	results := make(chan RequestResult, sched.Connections*sched.StreamsPerConn+64)
	s := NewScheduler(c.cfg, sched, results)
	go func() {
		defer close(results)
		_ = s.Run(ctx)
	}()
	return results
}
