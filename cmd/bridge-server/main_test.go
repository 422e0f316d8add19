package main

import (
	"testing"
	"time"
)

func TestWaitForShutdownBoundedRunExitsWhenClockFinishes(t *testing.T) {
	done := make(chan struct{})
	sig := make(chan struct{})

	finished := make(chan struct{})
	go func() {
		waitForShutdown(false, 5*time.Second, done, sig)
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("bounded run did not exit when the simulation clock finished")
	}
}

func TestWaitForShutdownWaitHoldsUntilSignal(t *testing.T) {
	done := make(chan struct{})
	close(done) // the bounded run already finished
	sig := make(chan struct{})

	finished := make(chan struct{})
	go func() {
		waitForShutdown(true, 5*time.Second, done, sig)
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("-wait exited on clock completion instead of holding for a signal")
	case <-time.After(50 * time.Millisecond):
	}

	close(sig)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("-wait did not exit on signal")
	}
}

func TestWaitForShutdownUnboundedRunIgnoresDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	sig := make(chan struct{})

	finished := make(chan struct{})
	go func() {
		waitForShutdown(false, 0, done, sig)
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("unbounded run exited without a signal")
	case <-time.After(50 * time.Millisecond):
	}

	close(sig)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("unbounded run did not exit on signal")
	}
}
