package loadcore

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http/httptrace"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/loadcore/loadcore/internal/errors"
)

// h2Conn is a single HTTP/2 connection shared by M stream-tasks. One is
// constructed per connection-worker; every stream-task under it reuses
// the same *http2.ClientConn via RoundTrip, since H2 multiplexes streams
// over one TCP connection instead of opening one per request.
type h2Conn struct {
	cc         *http2.ClientConn
	underlying net.Conn
	timing     ConnectionTime
}

// dialH2Conn establishes the one TCP+TLS+H2-handshake path a connection-
// worker's stream-tasks will share. ALPN negotiation of "h2" is the
// TLSConfigFactory's responsibility; if it offers a factory that doesn't
// negotiate h2 this returns a transport error rather than silently
// falling back to HTTP/1.1, since a silent downgrade would corrupt the
// caller's understanding of which protocol was benchmarked.
func dialH2Conn(ctx context.Context, cfg *ClientConfig, scheme, host string, port int) (*h2Conn, error) {
	var stream *Stream
	var timing ConnectionTime
	var err error

	if cfg.ProxyURL != nil {
		stream, timing, err = dialThroughProxy(ctx, cfg, scheme, host, port)
	} else {
		stream, timing, err = dialTimed(ctx, cfg, scheme, host, port)
	}
	if err != nil {
		return nil, err
	}

	if stream.TLSConn != nil {
		if p := stream.TLSConn.ConnectionState().NegotiatedProtocol; p != "h2" {
			stream.Close()
			return nil, errors.New(errors.KindTransport, "h2 not negotiated, got "+p)
		}
	}

	transport := &http2.Transport{
		AllowHTTP: scheme != "https",
	}
	if scheme != "https" {
		// h2c: the connection is already open, hand it straight back.
		transport.DialTLSContext = func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			return stream.Conn, nil
		}
	}

	cc, err := transport.NewClientConn(stream.Conn)
	if err != nil {
		stream.Close()
		return nil, errors.ClassifyAndWrap(err, "h2 client connection")
	}

	return &h2Conn{cc: cc, underlying: stream.Conn, timing: timing}, nil
}

func (h *h2Conn) close() {
	h.cc.Close()
	h.underlying.Close()
}

func (h *h2Conn) healthy() bool {
	return h.cc.CanTakeNewRequest()
}

// h2StreamTask issues one request on a shared h2Conn. The URL comes from
// the caller, which draws it from its own per-stream WorkerState RNG, so
// M concurrent stream-tasks under one connection draw independent,
// individually-replayable URL sequences.
type h2StreamTask struct {
	conn *h2Conn
}

func (t *h2StreamTask) do(ctx context.Context, cfg *ClientConfig, method string, u *url.URL, reportConnTiming bool) (status int, firstByte time.Duration, connTiming *ConnectionTime, lenBytes int64, err error) {
	// A plaintext-HTTP target through an HTTP proxy reaches this path as
	// an h2c connection to the proxy itself (dialThroughProxy returns the
	// proxy connection untunneled for non-https schemes), so the proxy
	// headers are merged in that case, as the H1 engine does.
	viaPlainProxy := cfg.ProxyURL != nil && u.Scheme != "https" && !isSOCKS5Proxy(cfg.ProxyURL)
	req, buildErr := buildRequest(cfg, method, u, cfg.Body, viaPlainProxy)
	if buildErr != nil {
		return 0, 0, nil, 0, errors.ClassifyAndWrap(buildErr, "build request")
	}

	var sendTime, firstByteTime time.Time
	trace := &httptrace.ClientTrace{
		WroteRequest:         func(httptrace.WroteRequestInfo) { sendTime = time.Now() },
		GotFirstResponseByte: func() { firstByteTime = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

	resp, doErr := t.conn.cc.RoundTrip(req)
	if doErr != nil {
		return 0, 0, nil, 0, errors.ClassifyAndWrap(doErr, "h2 roundtrip")
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
