package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"rfq-sync/domain"
)

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func runFor(r *Runner, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	r.Run(ctx)
}

func TestRegisterValidatesSchedule(t *testing.T) {
	r := NewRunner(time.Second, nil)
	noop := func(context.Context, domain.Actor) error { return nil }
	if err := r.Register(Job{Name: "rebuild", Schedule: "0 3 * * *", Run: noop}); err != nil {
		t.Fatalf("standard schedule: %v", err)
	}
	if err := r.Register(Job{Name: "hourly", Schedule: "@hourly", Run: noop}); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if err := r.Register(Job{Name: "bad", Schedule: "every day", Run: noop}); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if err := r.Register(Job{Name: "nobody", Schedule: "@daily"}); err == nil {
		t.Fatal("expected error for missing body")
	}
}

func TestJobsDoNotOverlap(t *testing.T) {
	r := NewRunner(5*time.Millisecond, nil)
	var running, maxRunning, runs int32
	r.add(entry{name: "slow", schedule: every(5 * time.Millisecond), run: func(ctx context.Context, _ domain.Actor) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		time.Sleep(40 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}})

	runFor(r, 250*time.Millisecond)

	if maxRunning != 1 {
		t.Fatalf("job ran concurrently with itself: max %d", maxRunning)
	}
	// Each run takes 40ms plus a 5ms gap, far fewer than one per tick.
	if runs < 2 || runs > 7 {
		t.Fatalf("unexpected run count %d", runs)
	}
}

func TestFailuresAndPanicsDoNotStopJob(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRunner(5*time.Millisecond, logger)
	var runs int32
	var actors sync.Map
	r.add(entry{name: "flaky", schedule: every(5 * time.Millisecond), run: func(_ context.Context, actingAs domain.Actor) error {
		actors.Store(actingAs, true)
		switch atomic.AddInt32(&runs, 1) {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("boom")
		}
		return nil
	}})

	runFor(r, 150*time.Millisecond)

	if atomic.LoadInt32(&runs) < 3 {
		t.Fatalf("job stopped after failure, runs=%d", runs)
	}
	failures := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.ErrorLevel && e.Data["job"] == "flaky" {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 logged failures, got %d", failures)
	}
	if _, ok := actors.Load(domain.SystemIdentity); !ok {
		t.Fatal("job not run as the system identity")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	r := NewRunner(time.Hour, nil)
	_ = r.Register(Job{Name: "yearly", Schedule: "@yearly", Run: func(context.Context, domain.Actor) error { return nil }})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
