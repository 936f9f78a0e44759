package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer is a bytes.Buffer safe for the printer goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter_Countdown(t *testing.T) {
	out := &syncBuffer{}
	p := NewCountdownProgressPrinter(out, "Scanning", 3*time.Second)
	p.Start()
	p.Println("Discovered Device: Pixel 8 [11:22:33:44:55:66]")
	time.Sleep(2 * progressUpdateInterval)
	p.Stop()
	p.Stop()

	text := out.String()
	assert.Contains(t, text, "Scanning (3s left)")
	assert.Contains(t, text, clearLineSequence+"Discovered Device: Pixel 8 [11:22:33:44:55:66]\n")
	assert.True(t, strings.HasSuffix(text, clearLineSequence))
}

func TestProgressPrinter_CountUp(t *testing.T) {
	out := &syncBuffer{}
	p := NewCountdownProgressPrinter(out, "Watching", 0)
	p.Start()
	p.Stop()

	assert.Contains(t, out.String(), "Watching (0s)")
}

func TestNewLineWriter_PlainForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	w, stop := newLineWriter(&buf, "Scanning", time.Second)
	defer stop()

	_, plain := w.(*plainWriter)
	assert.True(t, plain)

	w.Println("Completed 1-second scan.")
	assert.Equal(t, "Completed 1-second scan.\n", buf.String())
}
