// Package scheduler runs periodic maintenance jobs as the system identity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

const defaultPollInterval = time.Minute

// Job is a named body run on a cron schedule. Run receives the identity it
// must act as for every mutation it performs.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context, actingAs domain.Actor) error
}

type entry struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context, actingAs domain.Actor) error
}

// Runner executes registered jobs. A job never overlaps itself: its next fire
// time is computed only after the previous run returns.
type Runner struct {
	logger log.FieldLogger
	poll   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries []entry
}

// NewRunner creates a runner that sleeps at most poll between clock checks.
func NewRunner(poll time.Duration, logger log.FieldLogger) *Runner {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Runner{logger: logger, poll: poll, now: time.Now}
}

// Register adds job. Schedules use the standard five-field cron syntax or a
// descriptor such as "@hourly".
func (r *Runner) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler: job needs a name and a body")
	}
	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %s schedule %q: %w", job.Name, job.Schedule, err)
	}
	r.add(entry{name: job.Name, schedule: sched, run: job.Run})
	return nil
}

func (r *Runner) add(e entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Run starts one loop per job and blocks until ctx is cancelled and every
// in-flight run has returned.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	entries := append([]entry(nil), r.entries...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			r.loop(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, e entry) {
	logger := r.logger.WithField("job", e.name)
	for {
		next := e.schedule.Next(r.now())
		if next.IsZero() {
			logger.Warn("schedule has no future fire time, job stopped")
			return
		}
		if !r.sleepUntil(ctx, next) {
			return
		}
		start := r.now()
		err := r.execute(ctx, e)
		fields := log.Fields{"duration_ms": float64(r.now().Sub(start).Microseconds()) / 1000}
		if err != nil {
			logger.WithError(err).WithFields(fields).Error("job failed")
			continue
		}
		logger.WithFields(fields).Info("job completed")
	}
}

// sleepUntil waits in bounded steps so clock changes are noticed. It
// returns false when ctx is cancelled first.
func (r *Runner) sleepUntil(ctx context.Context, t time.Time) bool {
	for {
		wait := t.Sub(r.now())
		if wait <= 0 {
			return ctx.Err() == nil
		}
		if wait > r.poll {
			wait = r.poll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (r *Runner) execute(ctx context.Context, e entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", e.name, p)
		}
	}()
	return e.run(ctx, domain.SystemIdentity)
}
