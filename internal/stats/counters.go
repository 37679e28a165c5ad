// Package stats provides in-process counters for pin activity.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ActivityStats tracks cumulative activity counts since process start.
// All operations are thread-safe using atomic counters.
type ActivityStats struct {
	pinsCreated  int64
	pinsExpired  int64
	votesCast    int64
	reportsFiled int64
	passBys      int64
	discoveries  int64
}

// NewActivityStats creates a new ActivityStats instance.
func NewActivityStats() *ActivityStats {
	return &ActivityStats{}
}

// RecordPinCreated increments the created-pin counter.
func (s *ActivityStats) RecordPinCreated() {
	atomic.AddInt64(&s.pinsCreated, 1)
}

// RecordPinsExpired adds to the expired-pin counter.
func (s *ActivityStats) RecordPinsExpired(n int64) {
	atomic.AddInt64(&s.pinsExpired, n)
}

// RecordVote increments the vote counter.
func (s *ActivityStats) RecordVote() {
	atomic.AddInt64(&s.votesCast, 1)
}

// RecordReport increments the report counter.
func (s *ActivityStats) RecordReport() {
	atomic.AddInt64(&s.reportsFiled, 1)
}

// RecordPassBy increments the pass-by counter.
func (s *ActivityStats) RecordPassBy() {
	atomic.AddInt64(&s.passBys, 1)
}

// RecordDiscovery increments the discovery-request counter.
func (s *ActivityStats) RecordDiscovery() {
	atomic.AddInt64(&s.discoveries, 1)
}

// PinsCreated returns the total number of pins created.
func (s *ActivityStats) PinsCreated() int64 {
	return atomic.LoadInt64(&s.pinsCreated)
}

// PinsExpired returns the total number of pins retired by cleanup.
func (s *ActivityStats) PinsExpired() int64 {
	return atomic.LoadInt64(&s.pinsExpired)
}

// VotesCast returns the total number of votes.
func (s *ActivityStats) VotesCast() int64 {
	return atomic.LoadInt64(&s.votesCast)
}

// ReportsFiled returns the total number of reports.
func (s *ActivityStats) ReportsFiled() int64 {
	return atomic.LoadInt64(&s.reportsFiled)
}

// PassBys returns the total number of pass-bys.
func (s *ActivityStats) PassBys() int64 {
	return atomic.LoadInt64(&s.passBys)
}

// Discoveries returns the total number of discovery requests served.
func (s *ActivityStats) Discoveries() int64 {
	return atomic.LoadInt64(&s.discoveries)
}

// Reset resets all counters to zero.
func (s *ActivityStats) Reset() {
	atomic.StoreInt64(&s.pinsCreated, 0)
	atomic.StoreInt64(&s.pinsExpired, 0)
	atomic.StoreInt64(&s.votesCast, 0)
	atomic.StoreInt64(&s.reportsFiled, 0)
	atomic.StoreInt64(&s.passBys, 0)
	atomic.StoreInt64(&s.discoveries, 0)
}

// String returns a human-readable summary of the counters.
func (s *ActivityStats) String() string {
	return fmt.Sprintf("created=%d expired=%d votes=%d reports=%d pass_bys=%d discoveries=%d",
		s.PinsCreated(), s.PinsExpired(), s.VotesCast(), s.ReportsFiled(), s.PassBys(), s.Discoveries())
}

// LogSummary logs a summary of activity at INFO level. Useful for periodic
// reporting.
func (s *ActivityStats) LogSummary(logger *slog.Logger) {
	logger.Info("activity statistics",
		"pins_created", s.PinsCreated(),
		"pins_expired", s.PinsExpired(),
		"votes_cast", s.VotesCast(),
		"reports_filed", s.ReportsFiled(),
		"pass_bys", s.PassBys(),
		"discoveries", s.Discoveries(),
	)
}
