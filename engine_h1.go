package loadcore

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/loadcore/loadcore/internal/errors"
)

// h1Worker owns one HTTP/1.1 connection for the lifetime of a
// connection-worker. Its *http.Client's Transport is pinned to exactly
// one dial via DialContext, so keep-alive reuse on this client always
// means "reuse this same worker's connection", never pooling across
// workers — the fan-out grid controls concurrency, not net/http's own
// connection pool.
type h1Worker struct {
	client     *http.Client
	lastTiming *ConnectionTime
	targetHost string
	targetPort int
	scheme     string
}

// newH1Worker builds a worker that dials exactly once (TCP/TLS/Unix/vsock,
// possibly via a proxy) and reuses the resulting connection across every
// request this worker issues, redialing only when the connection has
// gone bad.
func newH1Worker(cfg *ClientConfig, scheme, host string, port int) *h1Worker {
	w := &h1Worker{targetHost: host, targetPort: port, scheme: scheme}

	transport := &http.Transport{
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
		MaxConnsPerHost:       1,
		IdleConnTimeout:       90 * time.Second,
		DisableKeepAlives:     !cfg.KeepAlive,
		ExpectContinueTimeout: 0,
	}
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return w.dial(ctx, cfg)
	}
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return w.dial(ctx, cfg)
	}
	if cfg.ProxyURL != nil && scheme != "https" && !isSOCKS5Proxy(cfg.ProxyURL) {
		// Plaintext HTTP through an HTTP proxy (§4.C "Target HTTP: no
		// tunnel"): net/http decides absolute-form vs origin-form purely
		// from Transport.Proxy being non-nil, independent of the actual
		// dial mechanics above (which are already fully overridden).
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}

	w.client = &http.Client{
		Transport: transport,
		// Redirects are followed by hand in do(), not by net/http: the
		// spec's redirect resolution needs to inspect the new authority
		// and decide whether to reuse this worker's pinned connection or
		// open a fresh one, which net/http's CheckRedirect has no say
		// over once it has already committed to following.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return w
}

// dial performs the one-time (or one-time-per-reconnect) connection setup
// and records its timing for the worker's next request to report.
func (w *h1Worker) dial(ctx context.Context, cfg *ClientConfig) (net.Conn, error) {
	var stream *Stream
	var timing ConnectionTime
	var err error

	if cfg.ProxyURL != nil {
		stream, timing, err = dialThroughProxy(ctx, cfg, w.scheme, w.targetHost, w.targetPort)
	} else {
		stream, timing, err = dialTimed(ctx, cfg, w.scheme, w.targetHost, w.targetPort)
	}
	if err != nil {
		return nil, err
	}
	w.lastTiming = &timing
	return newTrackedConn(stream.Conn, func() {}), nil
}

// do executes one request against u, following redirects by hand up to
// cfg.redirectLimit() hops, and returns only the terminal status and byte
// count (spec: "only the terminal status and byte count are reported").
// connTiming reflects whichever dial produced the terminal response: the
// worker's own pinned connection for same-authority hops, or a fresh
// one-shot connection for a redirect that crosses authorities.
func (w *h1Worker) do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL) (status int, firstByte time.Duration, connTiming *ConnectionTime, lenBytes int64, err error) {
	limit := cfg.redirectLimit()
	hops := 0
	cur := u
	curMethod := method
	client := w.client
	activeWorker := w
	ownClient := false
	w.lastTiming = nil
	var lastTiming *ConnectionTime

	for {
		viaPlainProxy := cfg.ProxyURL != nil && cur.Scheme != "https" && !isSOCKS5Proxy(cfg.ProxyURL)
		req, buildErr := buildRequest(cfg, curMethod, cur, cfg.Body, viaPlainProxy)
		if buildErr != nil {
			return 0, 0, nil, 0, errors.ClassifyAndWrap(buildErr, "build request")
		}
		req = req.WithContext(ctx)

		var sendTime, firstByteTime time.Time
		trace := &httptrace.ClientTrace{
			WroteRequest:         func(httptrace.WroteRequestInfo) { sendTime = time.Now() },
			GotFirstResponseByte: func() { firstByteTime = time.Now() },
		}
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

		resp, doErr := client.Do(req)
		if doErr != nil {
			return 0, 0, nil, 0, errors.ClassifyAndWrap(doErr, "h1 request")
		}

		if !firstByteTime.IsZero() && !sendTime.IsZero() {
			firstByte = firstByteTime.Sub(sendTime)
		}
		if activeWorker.lastTiming != nil {
			lastTiming = activeWorker.lastTiming
		}

		loc := resp.Header.Get("Location")
		isRedirect := loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400
		if !isRedirect || limit <= 0 {
			n, _ := io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if ownClient {
				client.CloseIdleConnections()
			}
			return resp.StatusCode, firstByte, lastTiming, n, nil
		}
		resp.Body.Close()
		if ownClient {
			client.CloseIdleConnections()
			ownClient = false
		}

		next, parseErr := cur.Parse(loc)
		if parseErr != nil {
			return 0, 0, nil, 0, errors.Wrap(errors.KindURLParse, parseErr, "redirect location")
		}
		hops++
		if hops > limit {
			return 0, 0, nil, 0, errors.New(errors.KindTooManyRedirect, "redirect limit exceeded")
		}

		sameAuthority := next.Host == cur.Host && next.Scheme == cur.Scheme
		if sameAuthority && cfg.KeepAlive {
			client = w.client
			activeWorker = w
			ownClient = false
		} else {
			host, port, hpErr := hostPort(next.Host, next.Scheme)
			if hpErr != nil {
				return 0, 0, nil, 0, errors.Wrap(errors.KindURLParse, hpErr, "redirect authority")
			}
			redirWorker := newH1Worker(cfg, next.Scheme, host, port)
			client = redirWorker.client
			activeWorker = redirWorker
			ownClient = true
		}
		cur = next
		// RFC 7231: a 303 always downgrades to GET; other redirect codes
		// preserve the original method in this core.
		if resp.StatusCode == http.StatusSeeOther {
			curMethod = http.MethodGet
		}
	}
}

// close tears down the worker's connection. Called when the worker
// itself is retired, e.g. the scheduler is draining down.
func (w *h1Worker) close() {
	w.client.CloseIdleConnections()
}

