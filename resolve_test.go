package loadcore

import (
	"context"
	"testing"
)

type stubResolver struct {
	addrs []string
	err   error
}

func (r stubResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.addrs, r.err
}

func TestApplyConnectToExactMatch(t *testing.T) {
	cfg := &ClientConfig{ConnectTo: []ConnectToOverride{
		{Host: "a.invalid", Port: 80, TargetHost: "127.0.0.1", TargetPort: 9999},
	}}

	h, p := applyConnectTo(cfg, "a.invalid", 80)
	if h != "127.0.0.1" || p != 9999 {
		t.Errorf("got (%s, %d), want (127.0.0.1, 9999)", h, p)
	}

	h, p = applyConnectTo(cfg, "b.invalid", 80)
	if h != "b.invalid" || p != 80 {
		t.Errorf("non-matching host was rewritten: got (%s, %d)", h, p)
	}
}

func TestHostPortDefaultsPerScheme(t *testing.T) {
	cases := []struct {
		authority, scheme string
		wantHost          string
		wantPort          int
	}{
		{"example.invalid", "http", "example.invalid", 80},
		{"example.invalid", "https", "example.invalid", 443},
		{"example.invalid:8443", "https", "example.invalid", 8443},
	}
	for _, c := range cases {
		host, port, err := hostPort(c.authority, c.scheme)
		if err != nil {
			t.Fatalf("hostPort(%q, %q): %v", c.authority, c.scheme, err)
		}
		if host != c.wantHost || port != c.wantPort {
			t.Errorf("hostPort(%q, %q) = (%s, %d), want (%s, %d)", c.authority, c.scheme, host, port, c.wantHost, c.wantPort)
		}
	}
}

func TestResolveTargetLiteralIPShortCircuits(t *testing.T) {
	cfg := &ClientConfig{Resolver: stubResolver{}}
	host, port, err := resolveTarget(context.Background(), cfg, "127.0.0.1", 80)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if host != "127.0.0.1" || port != 80 {
		t.Errorf("got (%s, %d), want (127.0.0.1, 80)", host, port)
	}
}

func TestResolveTargetUsesResolver(t *testing.T) {
	cfg := &ClientConfig{Resolver: stubResolver{addrs: []string{"10.0.0.5"}}}
	host, port, err := resolveTarget(context.Background(), cfg, "example.invalid", 80)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if host != "10.0.0.5" || port != 80 {
		t.Errorf("got (%s, %d), want (10.0.0.5, 80)", host, port)
	}
}

func TestResolveTargetAppliesConnectToBeforeResolving(t *testing.T) {
	cfg := &ClientConfig{
		Resolver:  stubResolver{addrs: []string{"should-not-be-used"}},
		ConnectTo: []ConnectToOverride{{Host: "a.invalid", Port: 80, TargetHost: "127.0.0.1", TargetPort: 9999}},
	}
	host, port, err := resolveTarget(context.Background(), cfg, "a.invalid", 80)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if host != "127.0.0.1" || port != 9999 {
		t.Errorf("got (%s, %d), want (127.0.0.1, 9999) — connect-to override should short-circuit via the literal-IP path", host, port)
	}
}

func TestResolveTargetNoSuchHost(t *testing.T) {
	cfg := &ClientConfig{Resolver: stubResolver{addrs: nil}}
	if _, _, err := resolveTarget(context.Background(), cfg, "example.invalid", 80); err == nil {
		t.Fatal("expected an error when resolver returns no addresses")
	}
}

// TestApplyConnectToSamplesAmongMultipleMatches checks §4.A: when several
// connect-to overrides match the same (host, port) exactly, every one of
// them must be reachable — not just the first one declared.
func TestApplyConnectToSamplesAmongMultipleMatches(t *testing.T) {
	cfg := &ClientConfig{ConnectTo: []ConnectToOverride{
		{Host: "a.invalid", Port: 80, TargetHost: "10.0.0.1", TargetPort: 1111},
		{Host: "a.invalid", Port: 80, TargetHost: "10.0.0.2", TargetPort: 2222},
		{Host: "a.invalid", Port: 80, TargetHost: "10.0.0.3", TargetPort: 3333},
	}}

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		h, _ := applyConnectTo(cfg, "a.invalid", 80)
		seen[h] = true
		if h != "10.0.0.1" && h != "10.0.0.2" && h != "10.0.0.3" {
			t.Fatalf("applyConnectTo returned unexpected host %q", h)
		}
	}
	if len(seen) < 3 {
		t.Errorf("applyConnectTo only ever returned %v across 500 draws, want a mix across all declared matches", seen)
	}
}
