// Package console collects bridge events for the foreground: each event is
// handed to a sink for rendering and kept in a bounded history.
package console

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/lysync/internal/bridge"
)

// Record is one history entry
type Record struct {
	Seq  uint64
	Time time.Time
	Kind bridge.EventKind
	Text string
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s", r.Time.Format("15:04:05"), r.Text)
}

// Metrics are updated atomically by the collector goroutine
type Metrics struct {
	EventsProcessed    int64
	RecordsOverwritten int64
}

const (
	StateNotRunning uint32 = iota
	StateRunning
	StateStopping

	// MaxHistorySize guards against accidental misconfiguration
	MaxHistorySize uint32 = 1 << 20
)

// Collector drains an event channel on its own goroutine. It stops when the
// channel is closed or Stop is called.
type Collector struct {
	events <-chan bridge.Event
	sink   func(bridge.Event)

	mu     sync.Mutex
	buffer mpmc.RichOverlappedRingBuffer[Record]

	stop    chan struct{}
	done    chan struct{}
	state   uint32
	metrics Metrics
}

// NewCollector creates a stopped collector. sink may be nil.
func NewCollector(events <-chan bridge.Event, historySize uint32, sink func(bridge.Event)) (*Collector, error) {
	if events == nil {
		return nil, fmt.Errorf("event channel cannot be nil")
	}
	if historySize == 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if historySize > MaxHistorySize {
		return nil, fmt.Errorf("history size %d exceeds maximum %d", historySize, MaxHistorySize)
	}
	if sink == nil {
		sink = func(bridge.Event) {}
	}

	done := make(chan struct{})
	close(done)

	return &Collector{
		events: events,
		sink:   sink,
		buffer: mpmc.NewOverlappedRingBuffer[Record](historySize),
		stop:   make(chan struct{}),
		done:   done,
		state:  StateNotRunning,
	}, nil
}

// Start launches the collector goroutine
func (c *Collector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateNotRunning, StateRunning) {
		switch atomic.LoadUint32(&c.state) {
		case StateRunning:
			return fmt.Errorf("collector is already running")
		default:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		}
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer func() {
			atomic.StoreUint32(&c.state, StateNotRunning)
			close(c.done)
		}()
		for {
			select {
			case <-c.stop:
				return
			case ev, ok := <-c.events:
				if !ok {
					return
				}
				c.record(ev)
				c.sink(ev)
			}
		}
	}()
	return nil
}

func (c *Collector) record(ev bridge.Event) {
	rec := Record{Seq: ev.Seq, Time: ev.Time, Kind: ev.Kind, Text: ev.Text()}

	c.mu.Lock()
	overwrites, err := c.buffer.EnqueueM(rec)
	c.mu.Unlock()

	if err == nil {
		atomic.AddInt64(&c.metrics.RecordsOverwritten, int64(overwrites))
	}
	atomic.AddInt64(&c.metrics.EventsProcessed, 1)
}

// Stop ends collection early. Events still queued in the channel are left there.
func (c *Collector) Stop() error {
	if atomic.CompareAndSwapUint32(&c.state, StateRunning, StateStopping) {
		close(c.stop)
	}
	return c.Wait(5 * time.Second)
}

// Wait blocks until the collector goroutine has exited
func (c *Collector) Wait(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("collector did not stop within %s", timeout)
	}
}

// State returns the lifecycle state
func (c *Collector) State() uint32 {
	return atomic.LoadUint32(&c.state)
}

// History returns the retained records, oldest first, without removing them
func (c *Collector) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Record
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	for _, rec := range out {
		_, _ = c.buffer.EnqueueM(rec)
	}
	return out
}

// Clear drops the retained history
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.buffer.IsEmpty() {
		if _, err := c.buffer.Dequeue(); err != nil {
			return
		}
	}
}

// GetMetrics returns a copy of the current metrics
func (c *Collector) GetMetrics() Metrics {
	return Metrics{
		EventsProcessed:    atomic.LoadInt64(&c.metrics.EventsProcessed),
		RecordsOverwritten: atomic.LoadInt64(&c.metrics.RecordsOverwritten),
	}
}
