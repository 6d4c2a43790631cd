package loadcore

import (
	"crypto/tls"
	"math/rand"
	"net/http"
	"net/url"
)

// The types in this file are minimal stand-ins for the external
// collaborators ClientConfig expects a real caller to supply (a URL
// generator driven by a load profile, a request signer, a DNS resolver
// with its own caching policy, a TLS config factory tied to a
// certificate store). They exist purely so this package's own tests and
// examples can run standalone; none of them is part of the functional
// surface this package is responsible for.

// StaticURLGenerator always returns the same URL, ignoring its RNG. It
// is useful for tests and for the simplest possible caller: hit one URL
// as fast as the schedule allows.
type StaticURLGenerator struct {
	URL *url.URL
}

func (g StaticURLGenerator) Generate(rng *rand.Rand) (*url.URL, error) {
	u := *g.URL
	return &u, nil
}

// NoopSigner performs no signing, the default when ClientConfig.Signer
// is left nil.
type NoopSigner struct{}

func (NoopSigner) Sign(method string, headers http.Header, u *url.URL, body []byte) error {
	return nil
}

// InsecureTLSConfigFactory returns a tls.Config with certificate
// verification disabled and ALPN set to match the requested HTTPVersion.
// Benchmarking against a self-signed or staging endpoint is the expected
// use; production traffic should supply a real TLSConfigFactory instead.
type InsecureTLSConfigFactory struct{}

func (InsecureTLSConfigFactory) Config(version HTTPVersion) *tls.Config {
	alpn := []string{"http/1.1"}
	switch version {
	case HTTP2:
		alpn = []string{"h2"}
	case HTTP3:
		alpn = []string{"h3"}
	}
	return &tls.Config{InsecureSkipVerify: true, NextProtos: alpn}
}
