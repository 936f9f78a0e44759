package console

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/srg/lysync/internal/bridge"
	"github.com/stretchr/testify/suite"
)

type CollectorTestSuite struct {
	suite.Suite
}

func logEvent(seq uint64, line string) bridge.Event {
	return bridge.Event{Kind: bridge.LogLine, Seq: seq, Time: time.Unix(int64(seq), 0), Line: line}
}

func (s *CollectorTestSuite) TestNewCollectorValidation() {
	// GOAL: Verify constructor rejects invalid parameters
	//
	// TEST SCENARIO: nil channel, zero size, oversize → errors; valid params → NotRunning collector
	_, err := NewCollector(nil, 8, nil)
	s.ErrorContains(err, "event channel cannot be nil")

	ch := make(chan bridge.Event)
	_, err = NewCollector(ch, 0, nil)
	s.ErrorContains(err, "history size must be > 0")

	_, err = NewCollector(ch, MaxHistorySize+1, nil)
	s.ErrorContains(err, "exceeds maximum")

	c, err := NewCollector(ch, 8, nil)
	s.Require().NoError(err)
	s.Equal(StateNotRunning, c.State())
	s.Empty(c.History())
}

func (s *CollectorTestSuite) TestForwardsAndRecordsInOrder() {
	// GOAL: Verify every event reaches the sink once and history keeps order
	//
	// TEST SCENARIO: Send 5 events → close channel → sink saw 5 in order → History returns the same 5 twice in a row
	ch := make(chan bridge.Event, 8)
	var (
		mu   sync.Mutex
		seen []uint64
	)
	c, err := NewCollector(ch, 16, func(ev bridge.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Seq)
	})
	s.Require().NoError(err)
	s.Require().NoError(c.Start())
	s.Error(c.Start(), "second Start must fail")

	for i := uint64(1); i <= 5; i++ {
		ch <- logEvent(i, fmt.Sprintf("line %d", i))
	}
	close(ch)
	s.Require().NoError(c.Wait(time.Second))

	s.Equal([]uint64{1, 2, 3, 4, 5}, seen)

	history := c.History()
	s.Require().Len(history, 5)
	s.Equal("line 1", history[0].Text)
	s.Equal("line 5", history[4].Text)
	s.Equal(history, c.History(), "History must not consume records")
	s.Equal(int64(5), c.GetMetrics().EventsProcessed)
	s.Equal(StateNotRunning, c.State())
}

func (s *CollectorTestSuite) TestHistoryIsBounded() {
	// GOAL: Verify the history overwrites the oldest records when full
	//
	// TEST SCENARIO: Size 4, send 40 events → history shorter than 40 → newest record retained
	ch := make(chan bridge.Event, 64)
	c, err := NewCollector(ch, 4, nil)
	s.Require().NoError(err)
	s.Require().NoError(c.Start())

	for i := uint64(1); i <= 40; i++ {
		ch <- logEvent(i, fmt.Sprintf("line %d", i))
	}
	close(ch)
	s.Require().NoError(c.Wait(time.Second))

	history := c.History()
	s.NotEmpty(history)
	s.Less(len(history), 40)
	s.Equal("line 40", history[len(history)-1].Text)
	s.Positive(c.GetMetrics().RecordsOverwritten)

	c.Clear()
	s.Empty(c.History())
}

func (s *CollectorTestSuite) TestStopAndRestart() {
	ch := make(chan bridge.Event)
	c, err := NewCollector(ch, 8, nil)
	s.Require().NoError(err)

	s.Require().NoError(c.Start())
	s.Require().NoError(c.Stop())
	s.Equal(StateNotRunning, c.State())
	s.Require().NoError(c.Stop(), "Stop on a stopped collector is a no-op")

	s.Require().NoError(c.Start())
	ch <- logEvent(1, "after restart")
	s.Require().NoError(c.Stop())
	s.Equal("after restart", c.History()[0].Text)
}

func TestCollectorTestSuite(t *testing.T) {
	suite.Run(t, new(CollectorTestSuite))
}
