package loadcore

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/loadcore/loadcore/internal/coreconst"
	"github.com/loadcore/loadcore/internal/coresync"
	"github.com/loadcore/loadcore/internal/errors"
)

// h3Conn is a single QUIC connection shared by M stream-tasks, the H3
// analogue of h2Conn. Unlike H2, closing down cleanly means asking the
// driver goroutine to run Shutdown(0) before the connection is awaited,
// since quic-go has no synchronous "close now" on an in-flight session.
type h3Conn struct {
	qconn    *quic.Conn
	rt       *http3.Transport
	timing   ConnectionTime
	shutdown *coresync.ShutdownSignal
	driverWG chan struct{}
}

// dialH3Conn resolves host via Component A (connect-to overrides, the
// configured Resolver, A/AAAA tie-break — the same path dialTimed uses for
// H1/H2), dials the resolved address from a UDP socket that
// quic.DialAddrEarly binds to 0.0.0.0:0, performs the QUIC handshake, and starts a background driver goroutine that owns the
// connection until either the scheduler requests a shutdown or the
// connection dies on its own. SNI is still the original hostname, not the
// resolved IP.
func dialH3Conn(ctx context.Context, cfg *ClientConfig, host string, port int) (*h3Conn, error) {
	var tlsCfg *tls.Config
	if cfg.TLSConfigFactory != nil {
		tlsCfg = cfg.TLSConfigFactory.Config(HTTP3)
	} else {
		tlsCfg = &tls.Config{ServerName: host, NextProtos: []string{"h3"}}
	}

	dnsStart := time.Now()
	resolvedHost, resolvedPort, err := resolveTarget(ctx, cfg, host, port)
	dnsLookup := time.Since(dnsStart)
	if err != nil {
		return nil, errors.ClassifyAndWrap(err, "resolve host")
	}

	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, coreconst.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(resolvedHost, itoa(resolvedPort))
	qconn, err := quic.DialAddrEarly(dialCtx, addr, tlsCfg, &quic.Config{})
	dialup := time.Since(start)
	if err != nil {
		return nil, errors.Wrap(errors.KindQUICConnect, err, "quic dial")
	}

	rt := &http3.Transport{
		TLSClientConfig: tlsCfg,
		Dial: func(ctx context.Context, _ string, tlsCfg *tls.Config, qcfg *quic.Config) (*quic.Conn, error) {
			return qconn, nil
		},
	}

	h := &h3Conn{
		qconn:    qconn,
		rt:       rt,
		timing:   ConnectionTime{DNSLookup: dnsLookup, Dialup: dialup},
		shutdown: coresync.NewShutdownSignal(),
		driverWG: make(chan struct{}),
	}
	go h.drive()
	return h, nil
}

// drive owns qconn for its lifetime: it blocks until either the
// connection's context is done (peer closed it, or it errored) or a
// shutdown was requested, in which case it asks quic-go for a graceful
// close with no error code before returning.
func (h *h3Conn) drive() {
	defer close(h.driverWG)
	select {
	case <-h.qconn.Context().Done():
	case <-h.shutdown.C():
		_ = h.qconn.CloseWithError(0, "")
	}
}

// close requests a graceful shutdown and waits for the driver to exit.
func (h *h3Conn) close() {
	h.shutdown.Send()
	<-h.driverWG
	h.rt.Close()
}

func (h *h3Conn) healthy() bool {
	select {
	case <-h.qconn.Context().Done():
		return false
	default:
		return true
	}
}

// h3StreamTask mirrors h2StreamTask: it issues one request on the
// connection-worker's single shared QUIC session and transport.
type h3StreamTask struct {
	conn *h3Conn
}

func (t *h3StreamTask) do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL, reportConnTiming bool) (status int, firstByte time.Duration, connTiming *ConnectionTime, lenBytes int64, err error) {
	// Never absolute-form: QUIC is UDP-only, so an HTTP forward proxy (TCP,
	// CONNECT-based) never sits between an H3 connection-worker and its
	// target — there is no plain-HTTP-via-proxy case on this path.
	req, buildErr := buildRequest(cfg, method, u, cfg.Body, false)
	if buildErr != nil {
		return 0, 0, nil, 0, errors.ClassifyAndWrap(buildErr, "build request")
	}

	var sendTime, firstByteTime time.Time
	trace := &httptrace.ClientTrace{
		WroteRequest:         func(httptrace.WroteRequestInfo) { sendTime = time.Now() },
		GotFirstResponseByte: func() { firstByteTime = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

	resp, doErr := t.conn.rt.RoundTrip(req)
	if doErr != nil {
		return 0, 0, nil, 0, errors.Wrap(errors.KindH3, doErr, "h3 roundtrip")
	}
	defer resp.Body.Close()

	n, _ := io.Copy(io.Discard, resp.Body)

	if !firstByteTime.IsZero() && !sendTime.IsZero() {
		firstByte = firstByteTime.Sub(sendTime)
	}

	if reportConnTiming {
		ct := t.conn.timing
		connTiming = &ct
	}
	return resp.StatusCode, firstByte, connTiming, n, nil
}
