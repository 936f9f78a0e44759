// Package bridge runs every BLE operation on one background worker and
// reports back to the foreground over an ordered event channel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/lysync/internal/device"
	"github.com/srg/lysync/internal/groutine"
	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/registry"
	"github.com/srg/lysync/internal/scan"
)

const (
	// WorkerName labels the BLE worker goroutine in pprof output
	WorkerName = "ble-worker"

	// DefaultEventBuffer is the capacity of the event channel
	DefaultEventBuffer = 256

	// jobQueueSize bounds pending jobs: at most one scan and one update are
	// admitted at a time, plus a scan whose completion is still being reported.
	jobQueueSize = 4
)

var (
	// ErrBusy is returned while an update attempt is in progress
	ErrBusy = errors.New("device update in progress")
	// ErrAlreadyRunning is returned by SubmitScan while a scan is active
	ErrAlreadyRunning = scan.ErrAlreadyRunning
	// ErrClosed is returned after Close
	ErrClosed = errors.New("bridge closed")
)

// Options contains the configuration of a Bridge
type Options struct {
	ScanWindow     time.Duration          // Continuous scan window per discovery call (0 = default)
	ScanPause      time.Duration          // Pause between continuous windows (0 = default)
	ConnectOptions *device.ConnectOptions // Connect and I/O timeouts for updates (nil = defaults)
	EventBuffer    int                    // Event channel capacity (0 = DefaultEventBuffer)
	Logger         *logrus.Logger         // Logger instance
}

type job func(ctx context.Context)

// Bridge serializes scans and updates on a single worker goroutine.
// Submit methods and StopScan are safe to call from any goroutine.
type Bridge struct {
	registry *registry.Registry
	session  *scan.Session
	runner   *protocol.Runner
	logger   *logrus.Logger

	jobs   chan job
	events chan Event
	seq    uint64
	done   chan struct{}

	// fg serializes admission decisions so that checking state and
	// enqueueing a job happen atomically with respect to other submits.
	fg       sync.Mutex
	closed   bool
	updating atomic.Bool
}

// New starts the worker. Cancelling ctx cancels in-flight transport calls.
func New(ctx context.Context, transport device.Transport, reg *registry.Registry, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if reg == nil {
		reg = registry.New(registry.DefaultMarker)
	}

	b := &Bridge{
		registry: reg,
		logger:   opts.Logger,
		jobs:     make(chan job, jobQueueSize),
		events:   make(chan Event, opts.EventBuffer),
		done:     make(chan struct{}),
	}

	b.session = scan.NewSession(transport, reg, scan.Options{
		Window: opts.ScanWindow,
		Pause:  opts.ScanPause,
		Logger: opts.Logger,
		Notify: b.logLine,
	})
	b.runner = protocol.NewRunner(transport, opts.ConnectOptions, opts.Logger, b.logLine)

	groutine.Go(ctx, WorkerName, b.work)
	return b
}

func (b *Bridge) work(ctx context.Context) {
	defer close(b.done)

	b.logger.WithField("goroutine", groutine.Label(ctx)).Debug("BLE worker started")
	for j := range b.jobs {
		j(ctx)
	}
	b.logger.Debug("BLE worker stopped")
}

// emit is only called from the worker, so Seq is strictly increasing in
// channel order.
func (b *Bridge) emit(ev Event) {
	b.seq++
	ev.Seq = b.seq
	ev.Time = time.Now()
	b.events <- ev
}

func (b *Bridge) logLine(line string) {
	b.emit(Event{Kind: LogLine, Line: line})
}

// Events delivers every event exactly once, in emission order. The consumer
// must keep draining it; the worker blocks while the buffer is full. The
// channel is closed by Close.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Registry returns the registry fed by scans
func (b *Bridge) Registry() *registry.Registry {
	return b.registry
}

// ScanState returns the scan session state
func (b *Bridge) ScanState() scan.State {
	return b.session.State()
}

// Updating reports whether an update attempt is admitted or running
func (b *Bridge) Updating() bool {
	return b.updating.Load()
}

// SubmitScan schedules a scan on the worker
func (b *Bridge) SubmitScan(mode scan.Mode) error {
	b.fg.Lock()
	defer b.fg.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.updating.Load() {
		return ErrBusy
	}
	if err := b.session.Begin(mode); err != nil {
		return err
	}

	b.logger.WithField("mode", mode).Debug("Scan submitted")
	b.jobs <- func(ctx context.Context) {
		res := b.session.Run(ctx, mode)
		b.emit(Event{Kind: ScanCompleted, Scan: &res})
	}
	return nil
}

// StopScan requests cooperative cancellation of the active scan, if any
func (b *Bridge) StopScan() {
	b.session.Stop()
}

// SubmitUpdate stops any active scan and schedules an update attempt after
// it. The attempt cannot be aborted once admitted.
func (b *Bridge) SubmitUpdate(req protocol.Request) error {
	b.fg.Lock()
	defer b.fg.Unlock()

	if b.closed {
		return ErrClosed
	}
	if !b.updating.CompareAndSwap(false, true) {
		return ErrBusy
	}

	preempted := b.session.Preempt()

	b.logger.WithFields(logrus.Fields{
		"attempt":   req.AttemptID.String(),
		"address":   req.Address,
		"preempted": preempted,
	}).Debug("Update submitted")

	b.jobs <- func(ctx context.Context) {
		// Jobs run in order, so a preempted scan has already returned to Idle.
		if err := b.session.Wait(ctx); err != nil {
			b.finishUpdate(protocol.Outcome{Kind: protocol.ConnectFailed, AttemptID: req.AttemptID, Address: req.Address, Err: err})
			return
		}

		if rec, err := b.registry.Lookup(req.Address); err == nil {
			b.logLine(fmt.Sprintf("Selected device: %s", rec))
		} else {
			b.logLine(fmt.Sprintf("Selected device: [%s]", req.Address))
		}
		if preempted {
			b.logLine("Scanning stopped for device update.")
		}

		b.finishUpdate(b.runner.Run(ctx, req))
	}
	return nil
}

func (b *Bridge) finishUpdate(out protocol.Outcome) {
	// Cleared before reporting so a foreground reacting to the event can submit again.
	b.updating.Store(false)
	b.emit(Event{Kind: UpdateFinished, Outcome: &out})
}

// Close stops any scan, waits for queued work to finish and closes the event
// channel. Safe to call more than once.
func (b *Bridge) Close() error {
	b.fg.Lock()
	if b.closed {
		b.fg.Unlock()
		<-b.done
		return nil
	}
	b.closed = true
	b.session.Stop()
	close(b.jobs)
	b.fg.Unlock()

	<-b.done
	close(b.events)
	return nil
}
