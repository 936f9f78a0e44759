// Package scan runs discovery sessions that feed the device registry.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/registry"
)

// State is the lifecycle state of a Session
type State uint32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// ErrAlreadyRunning is returned by Begin when the session is not Idle
var ErrAlreadyRunning = errors.New("scan already running")

const (
	DefaultBoundedDuration = 10 * time.Second
	DefaultWindow          = 5 * time.Second
	DefaultPause           = 1 * time.Second
)

// Mode selects a one-shot timed scan or a continuous scan
type Mode struct {
	Continuous bool
	Duration   time.Duration
}

// Bounded returns a one-shot mode; d <= 0 uses DefaultBoundedDuration
func Bounded(d time.Duration) Mode {
	if d <= 0 {
		d = DefaultBoundedDuration
	}
	return Mode{Duration: d}
}

// Continuous returns a mode that repeats discovery windows until stopped
func Continuous() Mode {
	return Mode{Continuous: true}
}

func (m Mode) String() string {
	if m.Continuous {
		return "continuous"
	}
	return fmt.Sprintf("bounded(%s)", m.Duration)
}

// Cause tells why a session returned to Idle
type Cause int

const (
	CauseCompleted Cause = iota // bounded scan ran its full duration
	CauseStopped                // Stop was called
	CauseCancelled              // the run context ended
	CauseFailed                 // a discovery call failed
	CausePreempted              // Preempt was called for a device update
)

func (c Cause) String() string {
	switch c {
	case CauseCompleted:
		return "completed"
	case CauseStopped:
		return "stopped"
	case CauseCancelled:
		return "cancelled"
	case CauseFailed:
		return "failed"
	case CausePreempted:
		return "preempted"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// Result summarizes one session run
type Result struct {
	Mode       Mode
	Cause      Cause
	Err        error
	Windows    int
	Discovered int
	Target     int
	Other      int
}

// Notifier receives the human-readable log lines of a session
type Notifier func(line string)

// Options tunes a Session. Zero durations take the package defaults.
type Options struct {
	Window time.Duration
	Pause  time.Duration
	Logger *logrus.Logger
	Notify Notifier
}

// Session owns the lifecycle of one discovery operation at a time.
// Begin and Stop may be called from any goroutine; Run executes on the caller's.
type Session struct {
	discoverer device.Discoverer
	registry   *registry.Registry
	window     time.Duration
	pause      time.Duration
	logger     *logrus.Logger
	notify     Notifier

	state uint32

	// mu guards state transitions out of Idle and Running together with
	// the fields below
	mu        sync.Mutex
	token     *Token
	idle      chan struct{}
	preempted bool
}

// NewSession creates an idle session
func NewSession(d device.Discoverer, reg *registry.Registry, opts Options) *Session {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Pause <= 0 {
		opts.Pause = DefaultPause
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Notify == nil {
		opts.Notify = func(string) {}
	}

	idle := make(chan struct{})
	close(idle)

	return &Session{
		discoverer: d,
		registry:   reg,
		window:     opts.Window,
		pause:      opts.Pause,
		logger:     opts.Logger,
		notify:     opts.Notify,
		state:      uint32(Idle),
		idle:       idle,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(atomic.LoadUint32(&s.state))
}

// Begin reserves the session: Idle -> Running. The state change and the new
// token are published together under mu, so a concurrent Stop always cancels
// the token of the run it observed.
func (s *Session) Begin(mode Mode) error {
	s.mu.Lock()
	if !atomic.CompareAndSwapUint32(&s.state, uint32(Idle), uint32(Running)) {
		s.mu.Unlock()
		return fmt.Errorf("%w (state: %s)", ErrAlreadyRunning, s.State())
	}
	s.token = NewToken()
	s.idle = make(chan struct{})
	s.preempted = false
	s.mu.Unlock()

	s.logger.WithField("mode", mode).Debug("Scan session reserved")
	return nil
}

// Stop requests cooperative cancellation: Running -> Stopping. No-op otherwise.
func (s *Session) Stop() {
	s.stop(false)
}

// Preempt is Stop on behalf of a device update. The run ends with
// CausePreempted and leaves the announcement to the caller.
func (s *Session) Preempt() bool {
	return s.stop(true)
}

func (s *Session) stop(preempt bool) bool {
	s.mu.Lock()
	if !atomic.CompareAndSwapUint32(&s.state, uint32(Running), uint32(Stopping)) {
		s.mu.Unlock()
		return false
	}
	s.preempted = preempt
	tok := s.token
	s.mu.Unlock()

	tok.Cancel()
	s.logger.WithField("preempt", preempt).Debug("Scan stop requested")
	return true
}

// Wait blocks until the session is Idle or ctx ends
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start is Begin followed by Run
func (s *Session) Start(ctx context.Context, mode Mode) (Result, error) {
	if err := s.Begin(mode); err != nil {
		return Result{Mode: mode}, err
	}
	return s.Run(ctx, mode), nil
}

// Run executes a session reserved by Begin (reserving it if still Idle) and
// always leaves it Idle.
// Discovery failures end the run and are reported in the Result, never returned.
func (s *Session) Run(ctx context.Context, mode Mode) Result {
	if !mode.Continuous && mode.Duration <= 0 {
		mode.Duration = DefaultBoundedDuration
	}
	if s.State() == Idle {
		if err := s.Begin(mode); err != nil {
			return Result{Mode: mode, Cause: CauseFailed, Err: err}
		}
	}

	s.mu.Lock()
	tok := s.token
	idle := s.idle
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		atomic.StoreUint32(&s.state, uint32(Idle))
		s.mu.Unlock()
		close(idle)
	}()

	res := Result{Mode: mode}
	if mode.Continuous {
		s.notify("Starting continuous scan...")
		s.runContinuous(ctx, tok, &res)
	} else {
		s.notify(fmt.Sprintf("Starting scan for %s...", formatDuration(mode.Duration, " seconds")))
		s.runBounded(ctx, tok, mode.Duration, &res)
	}

	if res.Cause == CauseStopped {
		s.mu.Lock()
		if s.preempted {
			res.Cause = CausePreempted
		}
		s.mu.Unlock()
	}

	switch res.Cause {
	case CauseCompleted:
		s.notify(fmt.Sprintf("Completed %s scan.", formatDuration(mode.Duration, "-second")))
	case CauseStopped:
		s.notify("Stopped scanning for Bluetooth devices.")
	case CauseFailed:
		s.notify(fmt.Sprintf("Error during scanning: %v", res.Err))
	}

	s.logger.WithFields(logrus.Fields{
		"mode":       mode,
		"cause":      res.Cause,
		"windows":    res.Windows,
		"discovered": res.Discovered,
		"target":     res.Target,
		"other":      res.Other,
	}).Info("Scan session finished")
	return res
}

func (s *Session) runBounded(ctx context.Context, tok *Token, d time.Duration, res *Result) {
	if !s.runWindow(ctx, d, res) {
		return
	}
	// A Stop during the window does not discard its results.
	if tok.Cancelled() {
		res.Cause = CauseStopped
		return
	}
	res.Cause = CauseCompleted
}

func (s *Session) runContinuous(ctx context.Context, tok *Token, res *Result) {
	for {
		if tok.Cancelled() {
			res.Cause = CauseStopped
			return
		}
		if ctx.Err() != nil {
			res.Cause = CauseCancelled
			return
		}

		if !s.runWindow(ctx, s.window, res) {
			return
		}

		select {
		case <-time.After(s.pause):
		case <-tok.Done():
		case <-ctx.Done():
		}
	}
}

// runWindow runs a single discovery call and registers its results.
// It returns false when the run must end (failure or cancellation).
func (s *Session) runWindow(ctx context.Context, timeout time.Duration, res *Result) bool {
	advs, err := s.discoverer.Discover(ctx, timeout)
	res.Windows++

	// Partial results are still registered.
	for _, adv := range advs {
		s.register(adv, res)
	}

	if err != nil {
		if ctx.Err() != nil {
			res.Cause = CauseCancelled
			return false
		}
		s.logger.WithField("error", err).Warn("Discovery window failed")
		res.Cause = CauseFailed
		res.Err = err
		return false
	}
	return true
}

func (s *Session) register(adv device.Advertisement, res *Result) {
	reg := s.registry.Register(adv.LocalName(), adv.Addr())
	if !reg.Inserted {
		return
	}

	res.Discovered++
	if reg.Partition == registry.TargetModel {
		res.Target++
		s.notify(fmt.Sprintf("Discovered %s Device: %s", s.registry.Marker(), reg.Record))
	} else {
		res.Other++
		s.notify(fmt.Sprintf("Discovered Device: %s", reg.Record))
	}

	s.logger.WithFields(logrus.Fields{
		"address":   reg.Record.ID,
		"name":      reg.Record.Name,
		"partition": reg.Partition,
	}).Debug("Registered device")
}

// formatDuration renders whole seconds as "10 seconds" / "10-second"
func formatDuration(d time.Duration, unit string) string {
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%d%s", int(d/time.Second), unit)
	}
	return d.String()
}
