// Package errors implements the error taxonomy of the load-generation core:
// a single tagged Kind plus the three classification predicates the
// scheduler uses to decide whether a worker should stop, reconnect, or
// simply report the failure and move on.
package errors

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// Kind tags a *Error with one of the bucket names the core's error
// handling design names explicitly.
type Kind int

const (
	KindUnknown Kind = iota
	KindPortNotFound
	KindHostNotFound
	KindDNSNoRecord
	KindResolveError
	KindTooManyRedirect
	KindTLS
	KindInvalidDNSName
	KindIO
	KindHTTP
	KindTransport
	KindInvalidHeader
	KindTimeout
	KindDeadline
	KindURLGenerator
	KindURLParse
	KindSigV4
	KindQUICConfig
	KindQUICConnect
	KindQUICConnection
	KindH3
	KindQUICDriverClosedEarly
)

func (k Kind) String() string {
	switch k {
	case KindPortNotFound:
		return "port_not_found"
	case KindHostNotFound:
		return "host_not_found"
	case KindDNSNoRecord:
		return "dns_no_record"
	case KindResolveError:
		return "resolve_error"
	case KindTooManyRedirect:
		return "too_many_redirect"
	case KindTLS:
		return "tls"
	case KindInvalidDNSName:
		return "invalid_dns_name"
	case KindIO:
		return "io"
	case KindHTTP:
		return "http"
	case KindTransport:
		return "transport"
	case KindInvalidHeader:
		return "invalid_header"
	case KindTimeout:
		return "timeout"
	case KindDeadline:
		return "deadline"
	case KindURLGenerator:
		return "url_generator"
	case KindURLParse:
		return "url_parse"
	case KindSigV4:
		return "sigv4"
	case KindQUICConfig:
		return "quic_config"
	case KindQUICConnect:
		return "quic_connect"
	case KindQUICConnection:
		return "quic_connection"
	case KindH3:
		return "h3"
	case KindQUICDriverClosedEarly:
		return "quic_driver_closed_early"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by every component of the core.
// It carries a Kind for classification and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		if e.Cause != nil {
			return "[" + e.Kind.String() + "] " + e.Cause.Error()
		}
		return "[" + e.Kind.String() + "]"
	}
	if e.Cause != nil {
		return "[" + e.Kind.String() + "] " + e.Message + ": " + e.Cause.Error()
	}
	return "[" + e.Kind.String() + "] " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if e.Cause != nil && errors.Is(e.Cause, target) {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCancel implements the core's is_cancel predicate: Deadline or an EMFILE
// (too-many-open-files) I/O failure. A worker observing a cancel-class
// error must stop entirely rather than retry, to avoid a fork-bomb-like
// retry storm under file-descriptor exhaustion.
func IsCancel(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindDeadline {
		return true
	}
	return isEMFILE(err)
}

func isEMFILE(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return sysErr.Err == syscall.EMFILE
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EMFILE
	}
	return false
}

// IsReconnectH2 implements the core's H2 is_reconnect predicate: any Io or
// transport-level error invalidates the current connection but not the
// workload.
func IsReconnectH2(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindIO, KindTransport:
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsReconnectH3 implements the core's is_h3_reconnect predicate: an H3 or
// Io error triggers reconnect of the whole QUIC session.
func IsReconnectH3(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindH3, KindIO:
		return true
	}
	return false
}

// IsRetryablePerRequest reports whether err should end the current request
// only, leaving the worker and its connection untouched (Timeout,
// TooManyRedirect, Http).
func IsRetryablePerRequest(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTooManyRedirect, KindHTTP:
		return true
	}
	return false
}

// Classify maps a low-level net/context error into a Kind, used by
// components that need to wrap a raw stdlib error before it is reported.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindDeadline
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return KindDNSNoRecord
		}
		return KindResolveError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindIO
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tls:"), strings.Contains(msg, "certificate"), strings.Contains(msg, "x509:"), strings.Contains(msg, "handshake"):
		return KindTLS
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "unexpected eof"), strings.Contains(msg, "protocol error"):
		return KindTransport
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return KindIO
	default:
		return KindUnknown
	}
}

// ClassifyAndWrap classifies err and wraps it into an *Error with message.
// Returns nil for a nil err.
func ClassifyAndWrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(Classify(err), err, message)
}
