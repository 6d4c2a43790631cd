package loadcore

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/loadcore/loadcore/internal/coreconst"
	"github.com/loadcore/loadcore/internal/errors"
)

// trackedConn wraps net.Conn with a close callback fired exactly once,
// however many times Close is called.
type trackedConn struct {
	net.Conn
	onClose func()
	closed  atomic.Bool
}

func newTrackedConn(c net.Conn, onClose func()) *trackedConn {
	return &trackedConn{Conn: c, onClose: onClose}
}

func (t *trackedConn) Close() error {
	if t.closed.CompareAndSwap(false, true) && t.onClose != nil {
		t.onClose()
	}
	return t.Conn.Close()
}

// dialResult carries both the established Stream and the timing split
// between DNS lookup, connect, and (if applicable) TLS handshake.
type dialResult struct {
	stream *Stream
	timing ConnectionTime
}

// dialPlain opens a TCP connection to host:port, applying the package's
// fixed connect timeout. TCP_NODELAY is set unconditionally: this package
// exists to measure request latency, and Nagle's algorithm's batching
// would corrupt exactly that measurement.
func dialPlain(ctx context.Context, host string, port int) (net.Conn, error) {
	d := &net.Dialer{Timeout: coreconst.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, coreconst.ConnectTimeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, itoa(port)))
	if err != nil {
		return nil, errors.ClassifyAndWrap(err, "dial tcp")
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// dialTLSOn upgrades an already-open net.Conn to TLS, using tlsCfg as
// given by the caller's TLSConfigFactory (ALPN selection is the
// factory's responsibility, not this function's).
func dialTLSOn(ctx context.Context, conn net.Conn, serverName string, tlsCfg *tls.Config) (*tls.Conn, error) {
	cfg := tlsCfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	tlsConn := tls.Client(conn, cfg)

	hsCtx, cancel := context.WithTimeout(ctx, coreconst.TLSHandshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tlsConn.HandshakeContext(hsCtx) }()

	select {
	case <-hsCtx.Done():
		conn.Close()
		return nil, errors.New(errors.KindTLS, "tls handshake timed out")
	case err := <-done:
		if err != nil {
			conn.Close()
			return nil, errors.ClassifyAndWrap(err, "tls handshake")
		}
	}
	return tlsConn, nil
}

// dialUnix connects to a Unix domain socket, ignoring host/port (the
// socket path stands in for the whole authority).
func dialUnix(ctx context.Context, path string) (net.Conn, error) {
	d := &net.Dialer{Timeout: coreconst.ConnectTimeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.ClassifyAndWrap(err, "dial unix")
	}
	return conn, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// dialTimed dials the transport selected by scheme and cfg (TLS for https,
// otherwise Unix, then vsock, then plain TCP) against host:port, timing
// each phase so the first request on this connection can report a
// ConnectionTime. For TCP and TLS it also resolves host (connect-to
// overrides, then the Resolver) and records that as DNSLookup.
func dialTimed(ctx context.Context, cfg *ClientConfig, scheme, host string, port int) (*Stream, ConnectionTime, error) {
	var timing ConnectionTime

	if scheme != "https" && cfg.VsockAddr != "" && cfg.UnixSocket == "" {
		start := time.Now()
		conn, err := dialVsock(ctx, cfg.VsockAddr)
		timing.Dialup = time.Since(start)
		if err != nil {
			return nil, timing, err
		}
		return &Stream{Kind: StreamVsock, Conn: conn}, timing, nil
	}

	if scheme != "https" && cfg.UnixSocket != "" {
		start := time.Now()
		conn, err := dialUnix(ctx, cfg.UnixSocket)
		timing.Dialup = time.Since(start)
		if err != nil {
			return nil, timing, err
		}
		return &Stream{Kind: StreamUnix, Conn: conn}, timing, nil
	}

	dnsStart := time.Now()
	resolvedHost, resolvedPort, err := resolveTarget(ctx, cfg, host, port)
	timing.DNSLookup = time.Since(dnsStart)
	if err != nil {
		return nil, timing, errors.ClassifyAndWrap(err, "resolve host")
	}

	start := time.Now()
	conn, err := dialPlain(ctx, resolvedHost, resolvedPort)
	timing.Dialup = time.Since(start)
	if err != nil {
		return nil, timing, err
	}

	if scheme != "https" {
		return &Stream{Kind: StreamTCP, Conn: conn}, timing, nil
	}

	var tlsCfg *tls.Config
	if cfg.TLSConfigFactory != nil {
		tlsCfg = cfg.TLSConfigFactory.Config(cfg.HTTPVersion)
	} else {
		tlsCfg = &tls.Config{ServerName: host}
	}

	hsStart := time.Now()
	tlsConn, err := dialTLSOn(ctx, conn, host, tlsCfg)
	timing.TLSHandshake = time.Since(hsStart)
	if err != nil {
		return nil, timing, err
	}
	return &Stream{Kind: StreamTLS, Conn: tlsConn, TLSConn: tlsConn}, timing, nil
}
