// Command loadgen is a minimal demonstration of wiring loadcore
// programmatically. It is not a CLI in the sense of flag-driven
// configuration, target confirmation, or TUI rendering — those are
// collaborators this module deliberately does not implement. It exists
// so the package can be exercised end to end outside of its tests.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loadcore/loadcore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: loadgen <url>")
		os.Exit(2)
	}

	target, err := url.Parse(os.Args[1])
	if err != nil {
		log.Fatalf("invalid target url: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down gracefully...")
		cancel()
	}()

	cfg := &loadcore.ClientConfig{
		Method:      "GET",
		HTTPVersion: loadcore.HTTP1,
		KeepAlive:   true,
		Timeout:     10 * time.Second,
		URLGen:      loadcore.StaticURLGenerator{URL: target},
	}

	client, err := loadcore.NewClient(cfg)
	if err != nil {
		log.Fatalf("configure client: %v", err)
	}

	sched := loadcore.ScheduleConfig{
		Connections:    4,
		StreamsPerConn: 1,
		Bound:          loadcore.DeadlineBound,
		Duration:       10 * time.Second,
		Limit:          loadcore.QueryLimit{Kind: loadcore.Unpaced},
		Termination:    loadcore.Drain,
	}

	var total, failed int
	for r := range client.Run(ctx, sched, false) {
		total++
		if r.Err != nil {
			failed++
			continue
		}
	}
	log.Printf("done: %d requests, %d failed", total, failed)
}
