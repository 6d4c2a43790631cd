package loadcore

import (
	"math/rand"
	"net/url"
	"testing"
)

func TestStaticURLGeneratorIgnoresRNGAndCopies(t *testing.T) {
	u, _ := url.Parse("http://example.invalid/path")
	gen := StaticURLGenerator{URL: u}

	got, err := gen.Generate(rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got == u {
		t.Error("Generate returned the same pointer instead of a copy")
	}
	if got.String() != u.String() {
		t.Errorf("got %q, want %q", got.String(), u.String())
	}

	got.Path = "/mutated"
	if u.Path == "/mutated" {
		t.Error("mutating the generated URL mutated the generator's own URL")
	}
}

func TestInsecureTLSConfigFactorySelectsALPNPerVersion(t *testing.T) {
	f := InsecureTLSConfigFactory{}
	cases := []struct {
		version HTTPVersion
		want    string
	}{
		{HTTP1, "http/1.1"},
		{HTTP2, "h2"},
		{HTTP3, "h3"},
	}
	for _, c := range cases {
		cfg := f.Config(c.version)
		if !cfg.InsecureSkipVerify {
			t.Errorf("version %v: InsecureSkipVerify should be true", c.version)
		}
		if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != c.want {
			t.Errorf("version %v: NextProtos = %v, want [%s]", c.version, cfg.NextProtos, c.want)
		}
	}
}
