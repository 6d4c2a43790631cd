package loadcore

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/loadcore/loadcore/internal/randutil"
)

// DefaultResolver is a Resolver backed by net.DefaultResolver, provided so
// the package works standalone; callers wanting caching or a custom DNS
// protocol supply their own Resolver via ClientConfig.
type DefaultResolver struct{}

func (DefaultResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// resolveTarget applies a connect-to override (exact host+port match) and
// then resolves the resulting host to one address, breaking ties among
// multiple A/AAAA records with a pooled, non-reproducible source (DNS
// tie-breaking doesn't need to replay the way URL generation does). IPv6
// literals are returned without their enclosing brackets since callers
// rejoin host:port themselves.
func resolveTarget(ctx context.Context, cfg *ClientConfig, host string, port int) (string, int, error) {
	host, port = applyConnectTo(cfg, host, port)

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.String(), port, nil
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = DefaultResolver{}
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return "", 0, err
	}
	if len(addrs) == 0 {
		return "", 0, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	idx := 0
	if len(addrs) > 1 {
		rng := randutil.Get()
		idx = rng.Intn(len(addrs))
		rng.Release()
	}
	return addrs[idx], port, nil
}

// applyConnectTo rewrites (host, port) to an exact-match override's target,
// leaving the pair unchanged when nothing matches. No partial/wildcard
// matching. When more than one override matches the same (host, port), the
// match is sampled uniformly at random rather than taking the first,
// per §4.A.
func applyConnectTo(cfg *ClientConfig, host string, port int) (string, int) {
	var matches []ConnectToOverride
	for _, o := range cfg.ConnectTo {
		if o.Host == host && o.Port == port {
			matches = append(matches, o)
		}
	}
	if len(matches) == 0 {
		return host, port
	}
	idx := 0
	if len(matches) > 1 {
		rng := randutil.Get()
		idx = rng.Intn(len(matches))
		rng.Release()
	}
	return matches[idx].TargetHost, matches[idx].TargetPort
}

// hostPort splits a URL authority into host and numeric port, filling in
// the scheme's default port when none is given explicitly.
func hostPort(authority, scheme string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
		if scheme == "https" {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
