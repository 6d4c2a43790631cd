package loadcore

import (
	"crypto/tls"
	"net"
	"net/http"

	"github.com/loadcore/loadcore/internal/randutil"
)

// StreamKind tags which transport a Stream wraps.
type StreamKind int

const (
	StreamTCP StreamKind = iota
	StreamTLS
	StreamUnix
	StreamVsock
	StreamQUIC
)

// Stream is a tagged union over the five transports component B can dial.
// Exactly one of the typed fields is populated, selected by Kind. QUIC
// streams carry no net.Conn since quic-go's session type plays that role
// instead.
type Stream struct {
	Kind StreamKind

	// Conn is populated for StreamTCP, StreamTLS, StreamUnix, StreamVsock.
	Conn net.Conn

	// TLSConn aliases Conn for StreamTLS, typed for callers that need
	// ConnectionState() without a type assertion.
	TLSConn *tls.Conn
}

// LocalAddr and RemoteAddr forward to the underlying net.Conn when one
// exists; QUIC streams return nil since the session owns addressing.
func (s *Stream) LocalAddr() net.Addr {
	if s.Conn != nil {
		return s.Conn.LocalAddr()
	}
	return nil
}

func (s *Stream) RemoteAddr() net.Addr {
	if s.Conn != nil {
		return s.Conn.RemoteAddr()
	}
	return nil
}

// Close tears down the underlying transport. QUIC streams are closed via
// their owning engine instead, since the session outlives any one Stream.
func (s *Stream) Close() error {
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}

// WorkerState is constructed once per connection-worker (H1) or once per
// stream-task (H2/H3, where M stream-tasks share one underlying
// connection). It owns the worker's own RNG, which must survive across
// requests so URL generation is reproducible per spec's snapshot/replay
// requirement. The connection handle itself (h1Worker, h2Conn, h3Conn) is
// held by the scheduler function that runs the worker, not here.
type WorkerState struct {
	// ConnIndex and StreamIndex identify this worker's position in the
	// N-connections x M-streams fan-out grid.
	ConnIndex   int
	StreamIndex int

	// RNG is this worker's private URLGenerator source. Never shared
	// across workers: that would make Snapshot/Replay ambiguous about
	// which worker's draw sequence a snapshot belongs to.
	RNG *randutil.WorkerRand

	// Client is a slot for an H1 worker's *http.Client. The scheduler
	// leaves it nil: the pinned client lives in h1Worker (see
	// engine_h1.go).
	Client *http.Client

	// KeepAlive mirrors ClientConfig.KeepAlive. The H1 engine reads
	// cfg.KeepAlive directly when deciding whether to reuse its handle
	// after a redirect, not this field.
	KeepAlive bool
}

// NewWorkerState allocates a WorkerState with a fresh, non-reproducible
// RNG. Callers that need reproducibility should overwrite RNG with one
// built from randutil.NewWorkerRandFromSeed.
func NewWorkerState(connIndex, streamIndex int) *WorkerState {
	return &WorkerState{
		ConnIndex:   connIndex,
		StreamIndex: streamIndex,
		RNG:         randutil.NewWorkerRand(),
	}
}
