package errors

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindUnknown},
		{"context canceled", context.Canceled, KindDeadline},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"connection refused", errors.New("connection refused"), KindIO},
		{"connection reset", errors.New("connection reset by peer"), KindIO},
		{"tls error", errors.New("tls: handshake failure"), KindTLS},
		{"certificate error", errors.New("x509: certificate signed by unknown authority"), KindTLS},
		{"malformed response", errors.New("malformed HTTP response"), KindTransport},
		{"unexpected EOF", errors.New("unexpected EOF"), KindTransport},
		{"unknown error", errors.New("some random error"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	e := New(KindTimeout, "request timed out")
	if e.Error() != "[timeout] request timed out" {
		t.Errorf("Error() = %q", e.Error())
	}

	wrapped := Wrap(KindIO, errors.New("base"), "dial failed")
	if wrapped.Error() != "[io] dial failed: base" {
		t.Errorf("Error() = %q", wrapped.Error())
	}

	if Wrap(KindIO, nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestErrorUnwrapIs(t *testing.T) {
	base := errors.New("base error")
	e := Wrap(KindIO, base, "")
	if !errors.Is(e, base) {
		t.Error("errors.Is should see through Unwrap to base")
	}

	other := New(KindIO, "")
	if !errors.Is(e, other) {
		t.Error("errors.Is between two *Error of the same Kind should match")
	}

	different := New(KindTLS, "")
	if errors.Is(e, different) {
		t.Error("errors.Is between different Kinds should not match")
	}
}

func TestIsCancel(t *testing.T) {
	if !IsCancel(New(KindDeadline, "")) {
		t.Error("Deadline should be cancel-class")
	}
	emfile := &os.SyscallError{Syscall: "accept", Err: syscall.EMFILE}
	if !IsCancel(emfile) {
		t.Error("EMFILE should be cancel-class")
	}
	if IsCancel(New(KindTimeout, "")) {
		t.Error("Timeout should not be cancel-class")
	}
	if IsCancel(nil) {
		t.Error("nil should not be cancel-class")
	}
}

func TestIsReconnectH2(t *testing.T) {
	if !IsReconnectH2(New(KindIO, "")) {
		t.Error("Io should be H2-reconnect-class")
	}
	if !IsReconnectH2(New(KindTransport, "")) {
		t.Error("Transport should be H2-reconnect-class")
	}
	if !IsReconnectH2(&net.OpError{Op: "read", Err: errors.New("x")}) {
		t.Error("a bare net.Error should be H2-reconnect-class")
	}
	if IsReconnectH2(New(KindHTTP, "")) {
		t.Error("Http should not be H2-reconnect-class")
	}
}

func TestIsReconnectH3(t *testing.T) {
	if !IsReconnectH3(New(KindH3, "")) {
		t.Error("H3 should be H3-reconnect-class")
	}
	if !IsReconnectH3(New(KindIO, "")) {
		t.Error("Io should be H3-reconnect-class")
	}
	if IsReconnectH3(New(KindTLS, "")) {
		t.Error("Tls should not be H3-reconnect-class")
	}
}

func TestIsRetryablePerRequest(t *testing.T) {
	for _, k := range []Kind{KindTimeout, KindTooManyRedirect, KindHTTP} {
		if !IsRetryablePerRequest(New(k, "")) {
			t.Errorf("%v should be retryable per-request", k)
		}
	}
	if IsRetryablePerRequest(New(KindDeadline, "")) {
		t.Error("Deadline should not be retryable per-request")
	}
}

func TestClassifyAndWrap(t *testing.T) {
	if ClassifyAndWrap(nil, "x") != nil {
		t.Error("ClassifyAndWrap(nil) should return nil")
	}
	e := ClassifyAndWrap(errors.New("connection refused"), "dial failed")
	if e.Kind != KindIO {
		t.Errorf("Kind = %v, want KindIO", e.Kind)
	}
	if e.Message != "dial failed" {
		t.Errorf("Message = %v", e.Message)
	}
}
