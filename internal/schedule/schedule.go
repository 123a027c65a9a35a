// Package schedule runs named recurring jobs on interval or wall-clock
// anchored triggers.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Task is one job invocation. Errors are logged; they never cancel the
// recurring schedule.
type Task func(ctx context.Context) error

// Trigger decides when a job fires.
type Trigger interface {
	// First returns the delay before the initial firing.
	First(now time.Time) time.Duration
	// Next returns the delay until the firing after the one at now.
	Next(now time.Time) time.Duration
	String() string
}

// intervalTrigger fires immediately, then every interval.
type intervalTrigger struct {
	interval time.Duration
}

// Every returns a trigger that fires immediately and then every d.
func Every(d time.Duration) Trigger {
	return intervalTrigger{interval: d}
}

func (t intervalTrigger) First(time.Time) time.Duration { return 0 }
func (t intervalTrigger) Next(time.Time) time.Duration  { return t.interval }
func (t intervalTrigger) String() string                { return fmt.Sprintf("every %s", t.interval) }

// dailyTrigger fires at the next occurrence of hh:mm in a fixed UTC offset,
// then every 24h from that anchor.
type dailyTrigger struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt returns a trigger anchored to hh:mm in the given UTC offset.
func DailyAt(hour, minute, utcOffsetHours int) Trigger {
	loc := time.FixedZone(fmt.Sprintf("UTC%+d", utcOffsetHours), utcOffsetHours*3600)
	return dailyTrigger{hour: hour, minute: minute, loc: loc}
}

// ParseDailyAt builds a DailyAt trigger from an "HH:MM" string.
func ParseDailyAt(at string, utcOffsetHours int) (Trigger, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return nil, eris.Wrapf(err, "schedule: parse daily time %q", at)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, eris.Errorf("schedule: daily time %q out of range", at)
	}
	return DailyAt(hour, minute, utcOffsetHours), nil
}

func (t dailyTrigger) First(now time.Time) time.Duration {
	local := now.In(t.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), t.hour, t.minute, 0, 0, t.loc)
	if !next.After(local) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(local)
}

// Next re-anchors to the wall clock rather than adding a flat 24h, so time
// spent inside the task body never shifts subsequent firings off hh:mm.
func (t dailyTrigger) Next(now time.Time) time.Duration { return t.First(now) }

func (t dailyTrigger) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", t.hour, t.minute, t.loc)
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler drives named recurring jobs. One task body runs to completion
// per firing; at most the next firing is pending.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
	log  *zap.Logger
}

func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job),
		log:  zap.L().With(zap.String("component", "schedule")),
	}
}

// StartJob installs a recurring job under name. Re-registering a name first
// cancels its existing timer, so registration is idempotent, not additive.
// An in-flight invocation is not interrupted.
func (s *Scheduler) StartJob(name string, trigger Trigger, task Task) {
	s.mu.Lock()
	if prev, ok := s.jobs[name]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = j
	s.mu.Unlock()

	s.log.Info("job scheduled", zap.String("job", name), zap.String("trigger", trigger.String()))

	go s.run(ctx, j, name, trigger, task)
}

func (s *Scheduler) run(ctx context.Context, j *job, name string, trigger Trigger, task Task) {
	defer close(j.done)

	delay := trigger.First(time.Now())
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.invoke(ctx, name, task)

		select {
		case <-ctx.Done():
			return
		default:
		}
		timer.Reset(trigger.Next(time.Now()))
	}
}

// invoke runs one task body, containing both errors and panics so a bad
// firing never kills the schedule.
func (s *Scheduler) invoke(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				zap.String("job", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	start := time.Now()
	if err := task(ctx); err != nil {
		s.log.Warn("job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// StopJob cancels the named job's timer and waits for any in-flight
// invocation to return. Stopping an unknown name is a no-op.
func (s *Scheduler) StopJob(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	j.cancel()
	<-j.done
	s.log.Info("job stopped", zap.String("job", name))
}

// StopAll cancels every job and waits for in-flight invocations.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for name, j := range jobs {
		j.cancel()
		<-j.done
		s.log.Info("job stopped", zap.String("job", name))
	}
}
