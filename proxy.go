package loadcore

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"

	"github.com/loadcore/loadcore/internal/coreconst"
	"github.com/loadcore/loadcore/internal/errors"
)

// tunnelThroughProxy issues an HTTP CONNECT to proxyConn and, on a 2xx
// response, hands back the raw connection ready for a TLS handshake (or
// plaintext use) against targetHost. The response is parsed off the raw
// net.Conn by hand rather than via net/http, since net/http has no public
// "read one response, then give me the conn back untouched" entry point
// and any buffering it did internally would swallow bytes the TLS
// handshake needs to see.
func tunnelThroughProxy(ctx context.Context, proxyConn net.Conn, targetHost string, proxyHeaders http.Header) (net.Conn, error) {
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", targetHost, targetHost)
	for k, vs := range proxyHeaders {
		for _, v := range vs {
			req += fmt.Sprintf("%s: %s\r\n", k, v)
		}
	}
	req += "\r\n"

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(coreconst.ProxyConnectTimeout)
	}
	_ = proxyConn.SetDeadline(deadline)
	defer proxyConn.SetDeadline(time.Time{})

	if _, err := proxyConn.Write([]byte(req)); err != nil {
		return nil, errors.ClassifyAndWrap(err, "write CONNECT request")
	}

	status, err := readProxyStatusLine(proxyConn)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, errors.New(errors.KindHTTP, fmt.Sprintf("proxy CONNECT failed with status %d", status))
	}
	return proxyConn, nil
}

// readProxyStatusLine reads and discards a CONNECT response's status line
// and headers, stopping at the blank line, and returns the parsed status
// code. It reads through a buffered reader and fails if the proxy sent
// any bytes past the blank line, since those would belong to the tunneled
// stream and would otherwise be lost in the buffer.
func readProxyStatusLine(conn net.Conn) (int, error) {
	r := bufio.NewReaderSize(onlyReader{conn}, coreconst.ProxyResponseLineMax)
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, errors.ClassifyAndWrap(err, "read CONNECT status line")
	}
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) < 2 {
		return 0, errors.New(errors.KindHTTP, "malformed CONNECT status line")
	}
	var status int
	if _, err := fmt.Sscanf(fields[1], "%d", &status); err != nil {
		return 0, errors.Wrap(errors.KindHTTP, err, "malformed CONNECT status code")
	}
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return 0, errors.ClassifyAndWrap(err, "read CONNECT headers")
		}
		if strings.TrimSpace(hline) == "" {
			break
		}
	}
	if r.Buffered() > 0 {
		return 0, errors.New(errors.KindHTTP, "proxy sent data past the CONNECT response")
	}
	return status, nil
}

// onlyReader strips everything but Read so bufio.Reader can't be tempted
// to call Close or other methods on the underlying net.Conn.
type onlyReader struct{ r net.Conn }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// tunnelThroughProxyH2 performs the CONNECT leg over an H2 (h2c, since the
// proxy connection itself is plaintext) connection to the proxy instead of
// H1: a CONNECT request's body and response body are used as the two
// halves of the tunneled byte stream, the mechanism golang.org/x/net/http2
// itself supports for CONNECT (no extended-CONNECT/RFC 8441 needed — this
// is plain single-stream tunneling, the H2 analogue of the H1 request
// line + raw socket halves tunnelThroughProxy hand-rolls).
func tunnelThroughProxyH2(ctx context.Context, proxyConn net.Conn, targetHost string, proxyHeaders http.Header) (net.Conn, error) {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			return proxyConn, nil
		},
	}
	cc, err := transport.NewClientConn(proxyConn)
	if err != nil {
		return nil, errors.ClassifyAndWrap(err, "h2 proxy client connection")
	}

	pr, pw := io.Pipe()
	header := proxyHeaders.Clone()
	if header == nil {
		header = make(http.Header)
	}
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetHost},
		Host:   targetHost,
		Header: header,
		Body:   pr,
	}
	req = req.WithContext(ctx)

	resp, err := cc.RoundTrip(req)
	if err != nil {
		cc.Close()
		return nil, errors.ClassifyAndWrap(err, "h2 CONNECT")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cc.Close()
		return nil, errors.New(errors.KindHTTP, fmt.Sprintf("proxy CONNECT failed with status %d", resp.StatusCode))
	}
	return &h2TunnelConn{r: resp.Body, w: pw, cc: cc}, nil
}

// h2TunnelConn adapts an H2 CONNECT stream's request/response bodies into a
// net.Conn, so the same "wrap in TLS and hand to the target-version engine"
// code path used for an H1-tunneled proxy connection works unchanged when
// the tunnel itself was negotiated over H2.
type h2TunnelConn struct {
	r  io.ReadCloser
	w  *io.PipeWriter
	cc *http2.ClientConn
}

func (c *h2TunnelConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *h2TunnelConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *h2TunnelConn) Close() error {
	c.w.CloseWithError(io.ErrClosedPipe)
	rErr := c.r.Close()
	c.cc.Close()
	return rErr
}

func (c *h2TunnelConn) LocalAddr() net.Addr             { return h2TunnelAddr{} }
func (c *h2TunnelConn) RemoteAddr() net.Addr            { return h2TunnelAddr{} }
func (c *h2TunnelConn) SetDeadline(time.Time) error     { return nil }
func (c *h2TunnelConn) SetReadDeadline(time.Time) error { return nil }
func (c *h2TunnelConn) SetWriteDeadline(time.Time) error { return nil }

type h2TunnelAddr struct{}

func (h2TunnelAddr) Network() string { return "h2-connect" }
func (h2TunnelAddr) String() string  { return "h2-connect" }

// isSOCKS5Proxy reports whether cfg's proxy speaks SOCKS5 rather than
// HTTP CONNECT — SOCKS5 is transparent at the byte level, so none of the
// HTTP-proxy-specific machinery (CONNECT framing, absolute-form URIs,
// proxy headers, ProxyHTTPVersion) applies to it.
func isSOCKS5Proxy(u *url.URL) bool {
	return u != nil && (u.Scheme == "socks5" || u.Scheme == "socks5h")
}

// dialThroughProxy establishes the full path to an HTTPS target via an
// HTTP forward proxy: TCP to the proxy, CONNECT tunnel (over H1 or H2,
// per cfg.ProxyHTTPVersion), then TLS to the real target over the tunnel.
// For plaintext HTTP targets, the proxy dial itself is the whole path:
// the H1 engine's Transport.Proxy setting makes net/http write
// absolute-form request targets, and buildRequest merges the proxy
// headers in that case.
func dialThroughProxy(ctx context.Context, cfg *ClientConfig, scheme, targetHost string, targetPort int) (*Stream, ConnectionTime, error) {
	if isSOCKS5Proxy(cfg.ProxyURL) {
		return dialThroughSOCKS5(ctx, cfg, scheme, targetHost, targetPort)
	}

	var timing ConnectionTime
	proxyHost, proxyPort, err := hostPort(cfg.ProxyURL.Host, cfg.ProxyURL.Scheme)
	if err != nil {
		return nil, timing, errors.Wrap(errors.KindURLParse, err, "invalid proxy URL")
	}

	dnsStart := time.Now()
	resolvedHost, resolvedPort, err := resolveTarget(ctx, cfg, proxyHost, proxyPort)
	timing.DNSLookup = time.Since(dnsStart)
	if err != nil {
		return nil, timing, errors.ClassifyAndWrap(err, "resolve proxy host")
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

	target := net.JoinHostPort(targetHost, itoa(targetPort))
	var tunneled net.Conn
	if cfg.ProxyHTTPVersion == HTTP2 {
		tunneled, err = tunnelThroughProxyH2(ctx, conn, target, proxyAuthHeader(cfg.ProxyURL))
	} else {
		tunneled, err = tunnelThroughProxy(ctx, conn, target, proxyAuthHeader(cfg.ProxyURL))
	}
	if err != nil {
		conn.Close()
		return nil, timing, err
	}

	var tlsCfg *tls.Config
	if cfg.TLSConfigFactory != nil {
		tlsCfg = cfg.TLSConfigFactory.Config(cfg.HTTPVersion)
	} else {
		tlsCfg = &tls.Config{ServerName: targetHost}
	}

	hsStart := time.Now()
	tlsConn, err := dialTLSOn(ctx, tunneled, targetHost, tlsCfg)
	timing.TLSHandshake = time.Since(hsStart)
	if err != nil {
		return nil, timing, err
	}
	return &Stream{Kind: StreamTLS, Conn: tlsConn, TLSConn: tlsConn}, timing, nil
}

// dialThroughSOCKS5 uses golang.org/x/net/proxy rather than hand-rolling
// the SOCKS5 handshake the way tunnelThroughProxy hand-rolls CONNECT: the
// SOCKS5 wire format has enough variants (auth methods, address types)
// that it is worth pulling in the ecosystem implementation instead.
func dialThroughSOCKS5(ctx context.Context, cfg *ClientConfig, scheme, targetHost string, targetPort int) (*Stream, ConnectionTime, error) {
	var timing ConnectionTime
	var auth *proxy.Auth
	if u := cfg.ProxyURL.User; u != nil {
		pw, _ := u.Password()
		auth = &proxy.Auth{User: u.Username(), Password: pw}
	}

	dialer, err := proxy.SOCKS5("tcp", cfg.ProxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, timing, errors.Wrap(errors.KindIO, err, "build socks5 dialer")
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, timing, errors.New(errors.KindIO, "socks5 dialer does not support context")
	}

	target := net.JoinHostPort(targetHost, itoa(targetPort))
	start := time.Now()
	conn, err := ctxDialer.DialContext(ctx, "tcp", target)
	timing.Dialup = time.Since(start)
	if err != nil {
		return nil, timing, errors.ClassifyAndWrap(err, "socks5 dial")
	}

	if scheme != "https" {
		return &Stream{Kind: StreamTCP, Conn: conn}, timing, nil
	}

	var tlsCfg *tls.Config
	if cfg.TLSConfigFactory != nil {
		tlsCfg = cfg.TLSConfigFactory.Config(cfg.HTTPVersion)
	} else {
		tlsCfg = &tls.Config{ServerName: targetHost}
	}
	hsStart := time.Now()
	tlsConn, err := dialTLSOn(ctx, conn, targetHost, tlsCfg)
	timing.TLSHandshake = time.Since(hsStart)
	if err != nil {
		return nil, timing, err
	}
	return &Stream{Kind: StreamTLS, Conn: tlsConn, TLSConn: tlsConn}, timing, nil
}

// proxyAuthHeader builds a Proxy-Authorization header from userinfo
// embedded in the proxy URL, or nil if the proxy is unauthenticated.
func proxyAuthHeader(proxyURL *url.URL) http.Header {
	if proxyURL.User == nil {
		return nil
	}
	h := make(http.Header)
	pw, _ := proxyURL.User.Password()
	token := base64.StdEncoding.EncodeToString([]byte(proxyURL.User.Username() + ":" + pw))
	h.Set("Proxy-Authorization", "Basic "+token)
	return h
}
