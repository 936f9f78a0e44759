package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// lineWriter receives bridge log lines for display
type lineWriter interface {
	Println(line string)
}

// plainWriter writes one line per call
type plainWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *plainWriter) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// ProgressPrinter keeps a countdown on the last terminal line while log lines
// scroll above it.
//
// Usage:
//
//	p := NewCountdownProgressPrinter(w, "Scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration // 0 counts up

	mu      sync.Mutex
	start   time.Time
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCountdownProgressPrinter creates a printer counting down from duration;
// a zero duration counts elapsed time instead.
func NewCountdownProgressPrinter(w io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins redrawing the progress line in a background goroutine
func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	p.start = time.Now()
	p.draw()
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.mu.Lock()
				p.draw()
				p.mu.Unlock()
			}
		}
	}()
}

// draw must be called with p.mu held
func (p *ProgressPrinter) draw() {
	if p.stopped {
		return
	}
	elapsed := time.Since(p.start)
	if p.duration <= 0 {
		fmt.Fprintf(p.w, "%s%s (%ds)", clearLineSequence, p.prefix, int(elapsed.Seconds()))
		return
	}

	remaining := p.duration - elapsed
	seconds := 0
	if remaining > 0 {
		// Round to the nearest second: 3.7s -> 4s, 3.3s -> 3s
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(p.w, "%s%s (%ds left)", clearLineSequence, p.prefix, seconds)
}

// Println prints line above the progress line
func (p *ProgressPrinter) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s%s\n", clearLineSequence, line)
	p.draw()
}

// Stop halts redrawing and clears the progress line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stop)
	p.mu.Unlock()

	<-p.done
	fmt.Fprint(p.w, clearLineSequence)
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newLineWriter returns a countdown printer on terminals and a plain writer
// otherwise, along with its stop function.
func newLineWriter(w io.Writer, prefix string, duration time.Duration) (lineWriter, func()) {
	if !isTerminal(w) {
		return &plainWriter{w: w}, func() {}
	}
	p := NewCountdownProgressPrinter(w, prefix, duration)
	p.Start()
	return p, p.Stop
}
