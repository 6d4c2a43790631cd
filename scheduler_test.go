package loadcore

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type fixedURLGen struct {
	u *url.URL
}

func (g fixedURLGen) Generate(rng *rand.Rand) (*url.URL, error) {
	u := *g.u
	return &u, nil
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

// S1: 4 connections, 100 fixed-count requests, no keep-alive, 5-byte body.
func TestScenarioFixedCountAllSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	cfg := &ClientConfig{
		Method:      "GET",
		HTTPVersion: HTTP1,
		KeepAlive:   false,
		URLGen:      fixedURLGen{u: mustParse(t, srv.URL+"/")},
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sched := ScheduleConfig{
		Connections:    4,
		StreamsPerConn: 1,
		Bound:          FixedCount,
		Count:          100,
		Limit:          QueryLimit{Kind: Unpaced},
		Termination:    Drain,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var results []RequestResult
	for r := range client.Run(ctx, sched, false) {
		results = append(results, r)
	}

	if len(results) != 100 {
		t.Fatalf("got %d results, want 100", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if r.Status != http.StatusOK {
			t.Errorf("status = %d, want 200", r.Status)
		}
		if r.LenBytes != 5 {
			t.Errorf("len_bytes = %d, want 5", r.LenBytes)
		}
	}
}

// S2: one redirect hop per request, redirect_limit = 1, terminal status 200.
func TestScenarioRedirectFollowedOnce(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &ClientConfig{
		Method:        "GET",
		HTTPVersion:   HTTP1,
		KeepAlive:     true,
		RedirectLimit: 1,
		URLGen:        fixedURLGen{u: mustParse(t, srv.URL+"/")},
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sched := ScheduleConfig{
		Connections: 1,
		Bound:       FixedCount,
		Count:       3,
		Limit:       QueryLimit{Kind: Unpaced},
		Termination: Drain,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var results []RequestResult
	for r := range client.Run(ctx, sched, false) {
		results = append(results, r)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if r.Status != http.StatusOK {
			t.Errorf("terminal status = %d, want 200", r.Status)
		}
	}
	mu.Lock()
	gotHits := hits
	mu.Unlock()
	if gotHits != 6 {
		t.Errorf("server saw %d hits, want 6 (2 round trips per task)", gotHits)
	}
}

// S4: the scheduled instants a QPS pacer hands out (what latency
// correction measures from) are 1/q apart, within ±1ms.
func TestScenarioQPSPacingSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	const qps = 50.0
	pc := newQPSPacer(qps)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 10; i++ {
		sched, ok := pc.next(ctx)
		if !ok {
			t.Fatal("pacer returned not-ok")
		}
		stamps = append(stamps, sched)
	}

	want := time.Second / qps
	for i := 1; i < len(stamps); i++ {
		got := stamps[i].Sub(stamps[i-1])
		diff := got - want
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Millisecond {
			t.Errorf("inter-emission gap %v, want ~%v (±1ms)", got, want)
		}
	}
}

func TestBurstPacerReleasesInGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pc := newBurstPacer(ctx, 50*time.Millisecond, 4)

	var first [4]time.Time
	for i := range first {
		sched, ok := pc.next(ctx)
		if !ok {
			t.Fatal("pacer returned not-ok")
		}
		first[i] = sched
	}
	for i := 1; i < 4; i++ {
		if !first[i].Equal(first[0]) {
			t.Errorf("tokens %d and 0 in the same burst have different stamps", i)
		}
	}

	fifth, ok := pc.next(ctx)
	if !ok {
		t.Fatal("pacer returned not-ok")
	}
	if !fifth.After(first[0]) {
		t.Errorf("next burst's stamp should be after the previous burst's")
	}
}
