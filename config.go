// Package loadcore is the load-generation core of an HTTP benchmarking
// tool. It drives a target endpoint at a configured rate or concurrency,
// measuring per-request latency and transport-level timing across
// HTTP/1.1, HTTP/2, and HTTP/3.
//
// The package does not parse a CLI, load configuration, generate URLs,
// sign requests, resolve DNS, build TLS configs, or aggregate results —
// those are external collaborators a caller supplies via the interfaces
// in this file. Reasonable defaults are provided so the package is
// independently usable and testable, but a production caller is expected
// to bring its own.
package loadcore

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// HTTPVersion selects the wire protocol a Client speaks.
type HTTPVersion int

const (
	HTTP1 HTTPVersion = iota
	HTTP2
	HTTP3
)

func (v HTTPVersion) String() string {
	switch v {
	case HTTP2:
		return "HTTP/2"
	case HTTP3:
		return "HTTP/3"
	default:
		return "HTTP/1.1"
	}
}

// URLGenerator produces URLs from a template and an RNG. Deterministic
// given the RNG's state, so a (seed, draw-count) snapshot reproduces any
// URL it once generated.
type URLGenerator interface {
	Generate(rng *rand.Rand) (*url.URL, error)
}

// Signer mutates a header map given a method, URL, and body, e.g. to add
// AWS SigV4 headers. A nil Signer on ClientConfig means signing is
// disabled.
type Signer interface {
	Sign(method string, headers http.Header, u *url.URL, body []byte) error
}

// Resolver performs host -> address lookup, with caching left to the
// implementation.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// TLSConfigFactory yields a protocol-version-aware client TLS config; it
// must select ALPN consistent with the requested HTTPVersion.
type TLSConfigFactory interface {
	Config(version HTTPVersion) *tls.Config
}

// ConnectToOverride redirects (Host, Port) to (TargetHost, TargetPort)
// before DNS resolution, applied only on an exact match.
type ConnectToOverride struct {
	Host       string
	Port       int
	TargetHost string
	TargetPort int
}

// QueryLimitKind tags a QueryLimit as unpaced, QPS-paced, or burst-paced.
type QueryLimitKind int

const (
	Unpaced QueryLimitKind = iota
	QPSLimit
	BurstLimit
)

// QueryLimit is the scheduler's pacing strategy (spec §4.G).
type QueryLimit struct {
	Kind QueryLimitKind

	// QPS is used when Kind == QPSLimit: the i-th token is emitted at
	// start + i/QPS.
	QPS float64

	// BurstPeriod/BurstCount are used when Kind == BurstLimit: every
	// BurstPeriod, BurstCount tokens are emitted at once.
	BurstPeriod time.Duration
	BurstCount  int
}

// ClientConfig is immutable after construction and fully describes one
// load-generation run. No field here is populated by this package parsing
// a CLI or a config file — that is out of scope.
type ClientConfig struct {
	// Target
	Method  string
	Headers http.Header
	Body    []byte

	// Protocol
	HTTPVersion      HTTPVersion
	ProxyHTTPVersion HTTPVersion
	KeepAlive        bool
	RedirectLimit    int
	Timeout          time.Duration // per-request timeout, 0 disables it

	// Collaborators
	URLGen           URLGenerator
	Signer           Signer
	Resolver         Resolver
	TLSConfigFactory TLSConfigFactory

	// Transport selection
	ProxyURL    *url.URL
	ConnectTo   []ConnectToOverride
	UnixSocket  string // path; empty disables unix-socket transport
	VsockAddr   string // "cid:port"; empty disables vsock transport
}

func (c *ClientConfig) redirectLimit() int {
	if c.RedirectLimit > 0 {
		return c.RedirectLimit
	}
	return 0
}
