package loadcore

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/loadcore/loadcore/internal/errors"
	"github.com/loadcore/loadcore/internal/randutil"
)

// buildRequest assembles an *http.Request for u and layers headers in the
// fixed order §4.D requires: caller-configured headers first, then
// Signer-added headers (so a signature can cover caller headers), then —
// only when useProxyAbsoluteForm is set — the proxy's own headers merged
// on top. Absolute-vs-origin form on the wire is not decided here: for H1
// it is decided by the pinned *http.Transport's Proxy func (net/http
// derives "is this a proxied request" from that, not from req.URL), set
// by newH1Worker when the target is plaintext HTTP through an HTTP proxy;
// setting req.URL.Opaque has no effect on that decision and isn't done.
func buildRequest(cfg *ClientConfig, method string, u *url.URL, body []byte, useProxyAbsoluteForm bool) (*http.Request, error) {
	if method == "" {
		method = "GET"
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, u.String(), bodyReader)
	if err != nil {
		return nil, errors.Wrap(errors.KindURLParse, err, "build request")
	}

	for k, vs := range cfg.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Host") != "" {
		req.Host = req.Header.Get("Host")
		req.Header.Del("Host")
	}

	if cfg.Signer != nil {
		if err := cfg.Signer.Sign(method, req.Header, u, body); err != nil {
			return nil, errors.Wrap(errors.KindSigV4, err, "sign request")
		}
	}

	if useProxyAbsoluteForm {
		for k, vs := range proxyAuthHeader(cfg.ProxyURL) {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}

	return req, nil
}

// nextURL draws the next target URL from cfg's generator and advances the
// supplied worker RNG's draw count. Callers take rng.Snapshot() before
// calling it, so the RequestResult can later reproduce exactly this URL
// via randutil.Replay.
func nextURL(cfg *ClientConfig, rng *randutil.WorkerRand) (*url.URL, error) {
	if cfg.URLGen == nil {
		return nil, errors.New(errors.KindURLGenerator, "no URLGenerator configured")
	}
	u, err := cfg.URLGen.Generate(rng.Rand())
	if err != nil {
		return nil, errors.Wrap(errors.KindURLGenerator, err, "generate url")
	}
	rng.Advance()
	return u, nil
}
