// Package schedule re-submits device updates on a cron expression or a fixed
// interval.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/protocol"
)

// ErrDuplicate is returned by Add for a name that is already scheduled
var ErrDuplicate = errors.New("schedule already exists")

// Submitter accepts update requests; *bridge.Bridge satisfies it
type Submitter interface {
	SubmitUpdate(req protocol.Request) error
}

// RequestFunc builds a fresh request for each run so the written clock is
// captured at fire time.
type RequestFunc func(now time.Time) protocol.Request

// Parse accepts a standard 5-field cron expression, a descriptor such as
// "@daily" or "@every 1h", or a plain Go duration like "6h".
func Parse(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(expr); err == nil {
		return sched, nil
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", expr)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", expr)
	}
	return constantDelay(d), nil
}

// constantDelay is a fixed interval; unlike cron.Every it keeps sub-second precision
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// Entry describes one registered schedule
type Entry struct {
	Name string
	Expr string
	Next time.Time
	Prev time.Time
}

// Scheduler owns a cron runner whose jobs submit update requests
type Scheduler struct {
	cron    *cron.Cron
	submit  Submitter
	logger  *logrus.Logger
	mu      sync.Mutex
	entries map[string]registered
	started bool
}

type registered struct {
	id   cron.EntryID
	expr string
}

// New creates a stopped scheduler
func New(submit Submitter, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		submit:  submit,
		logger:  logger,
		entries: make(map[string]registered),
	}
}

// Add registers a named schedule
func (s *Scheduler) Add(name, expr string, build RequestFunc) error {
	sched, err := Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name, build) }))
	s.entries[name] = registered{id: id, expr: expr}

	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"schedule": expr,
	}).Info("Update scheduled")
	return nil
}

func (s *Scheduler) fire(name string, build RequestFunc) {
	req := build(time.Now())
	fields := logrus.Fields{
		"name":    name,
		"attempt": req.AttemptID.String(),
		"address": req.Address,
	}

	if err := s.submit.SubmitUpdate(req); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("Scheduled update not submitted")
		return
	}
	s.logger.WithFields(fields).Info("Scheduled update submitted")
}

// Trigger runs a registered schedule's job immediately
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	reg, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no schedule named %s", name)
	}
	s.cron.Entry(reg.id).Job.Run()
	return nil
}

// Remove unregisters a schedule; it reports whether one existed
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(reg.id)
	delete(s.entries, name)
	return true
}

// Entries returns registered schedules sorted by name
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, reg := range s.entries {
		e := s.cron.Entry(reg.id)
		out = append(out, Entry{Name: name, Expr: reg.expr, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing schedules; calling it twice is a no-op
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts the runner and waits for a job in progress to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}
