// Package coreconst collects the magic numbers the load-generation core
// must reproduce bit-exactly: timeouts, buffer sizes, and protocol-level
// window settings.
package coreconst

import "time"

// =============================================================================
// Dial & Handshake Timeouts
// =============================================================================

const (
	// ConnectTimeout bounds every dial path (TCP, TLS, Unix, vsock, QUIC).
	ConnectTimeout = 5 * time.Second

	// TLSHandshakeTimeout bounds the TLS handshake once the TCP leg is up.
	TLSHandshakeTimeout = 5 * time.Second

	// ProxyConnectTimeout bounds reading the CONNECT response off the proxy socket.
	ProxyConnectTimeout = 5 * time.Second
)

// =============================================================================
// HTTP/2 Settings
// =============================================================================

const (
	// H2InitialWindowSize is the (1<<30)-1 flow-control window size for both
	// the per-stream and the per-connection window. The H2 engine does not
	// apply it: golang.org/x/net/http2.Transport has no setting for it, so
	// the transport's built-in default windows are used.
	H2InitialWindowSize = (1 << 30) - 1
)

// =============================================================================
// Scheduler / Channel Sizing
// =============================================================================

const (
	// TokenChannelBound is a bounded token-channel depth for closed-loop
	// (fixed-N) and QPS/burst-paced production. The scheduler does not use
	// it: it has no token channel, and its streams draw from a shared pacer.
	TokenChannelBound = 5000

	// ReportChannelBound is a worker -> aggregator report channel depth.
	// Client.Run does not use it; it sizes its results channel from the
	// connection and stream counts.
	ReportChannelBound = 5000

	// SteadyStateTick is a period for a scheduler reconciliation loop. The
	// scheduler has no such loop and does not use it.
	SteadyStateTick = 100 * time.Millisecond
)

// =============================================================================
// Buffer Sizes
// =============================================================================

const (
	// ResponseReadBufferSize is a read-buffer size for draining response
	// bodies. The engines do not use it: they drain bodies with io.Copy,
	// which allocates its own buffer.
	ResponseReadBufferSize = 32 * 1024

	// ProxyResponseLineMax sizes the buffered reader used to read a CONNECT
	// response. It does not cap the length of a header line.
	ProxyResponseLineMax = 8 * 1024
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultRedirectLimit is a conventional RedirectLimit for callers to
	// set. ClientConfig does not apply it: a RedirectLimit left at 0 means
	// redirects are not followed.
	DefaultRedirectLimit = 10

	// QUICBindAddr is the local address every QUIC client endpoint binds to.
	QUICBindAddr = "0.0.0.0:0"
)

// =============================================================================
// Reconnect Backoff
// =============================================================================

const (
	// ReconnectBaseDelay is the first redial delay after a reconnect-class
	// connection failure.
	ReconnectBaseDelay = 50 * time.Millisecond

	// ReconnectMaxDelay caps the exponential backoff applied to repeated
	// reconnect failures on the same connection-worker.
	ReconnectMaxDelay = 5 * time.Second

	// ReconnectMultiplier is the per-attempt growth factor.
	ReconnectMultiplier = 2.0

	// ReconnectJitterRatio randomizes each delay by up to this fraction so
	// many connection-workers reconnecting at once don't retry in lockstep.
	ReconnectJitterRatio = 0.2
)
