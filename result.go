package loadcore

import (
	"net/url"
	"time"

	"github.com/loadcore/loadcore/internal/errors"
	"github.com/loadcore/loadcore/internal/randutil"
)

// ConnectionTime carries the connection-establishment timing captured on
// the first request issued over a freshly dialed connection. Subsequent
// requests that reuse the same connection (keep-alive) carry a nil
// ConnectionTime on their RequestResult, per spec: connection time is
// reported once per connection, not once per request.
type ConnectionTime struct {
	DNSLookup     time.Duration
	Dialup        time.Duration // TCP/Unix/vsock connect
	TLSHandshake  time.Duration // zero for plaintext connections
}

// RequestResult is the per-request measurement the scheduler hands to a
// result aggregator. This package constructs and emits these values; it
// does not retain, summarize, or persist them.
type RequestResult struct {
	// Status is the HTTP response status code, or 0 if the request never
	// produced a response (Err is set in that case).
	Status int

	// Err classifies a failed request. Nil on success.
	Err *errors.Error

	// Duration is the request's wall-clock cost, measured start-to-finish
	// per the scheduler's termination semantics (see spec §5 on how
	// Duration is computed for aborted-vs-drained requests).
	Duration time.Duration

	// ConnectionTime is non-nil only for the first request on a newly
	// established connection.
	ConnectionTime *ConnectionTime

	// FirstByte is the time from request-send to the first response byte,
	// zero if no response byte was ever received.
	FirstByte time.Duration

	// URL is the request's target, useful for result correlation and for
	// replaying a generator against RNG.
	URL *url.URL

	// RNG snapshots the URLGenerator state at the instant this request's
	// URL was drawn, letting a caller regenerate the same URL later.
	RNG randutil.Snapshot

	// LenBytes is the response body length if read, else 0 (body
	// inspection beyond byte-count is out of scope for this package).
	LenBytes int64
}
