package scan

import "sync"

// Token is a cooperative cancellation flag. The scan loop checks it once per
// iteration; it never interrupts a discovery call already in flight.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken returns an uncancelled token
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed on Cancel
func (t *Token) Done() <-chan struct{} {
	return t.done
}
