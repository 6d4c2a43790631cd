package coresync

import (
	"sync"
	"testing"
	"time"
)

func TestClosableBroadcast(t *testing.T) {
	c := NewClosable()
	const waiters = 20

	var wg sync.WaitGroup
	wg.Add(waiters)
	woke := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			<-c.C()
			woke <- struct{}{}
		}()
	}

	if c.IsClosed() {
		t.Fatal("should not be closed before Close")
	}

	c.Close()
	c.Close() // idempotent

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all waiters woke up after Close")
	}

	if len(woke) != waiters {
		t.Fatalf("woke = %d, want %d", len(woke), waiters)
	}
	if !c.IsClosed() {
		t.Error("IsClosed should be true after Close")
	}
}

func TestClosableLateWaiter(t *testing.T) {
	c := NewClosable()
	c.Close()

	select {
	case <-c.C():
	default:
		t.Fatal("a waiter arriving after Close should see it as already closed")
	}
}

func TestShutdownSignal(t *testing.T) {
	s := NewShutdownSignal()
	select {
	case <-s.C():
		t.Fatal("should not fire before Send")
	default:
	}
	s.Send()
	s.Send() // idempotent
	select {
	case <-s.C():
	default:
		t.Fatal("should fire after Send")
	}
}
