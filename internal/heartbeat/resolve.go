package heartbeat

import "time"

// Status is the operator-facing state of a slot.
type Status string

const (
	StatusWorking Status = "working"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// DefaultStaleAfter is how long a heartbeat stays fresh.
const DefaultStaleAfter = 45 * time.Second

// Resolve derives the display status for a slot.
//
// A slot with a current task is always working, even when its heartbeat
// has gone stale. A crashed worker must not flip the board to idle or
// offline while its task is still checked out; the task store, not the
// heartbeat, is the source of truth for busyness.
func Resolve(currentTaskID string, lastBeatAt time.Time, now time.Time, staleAfter time.Duration) Status {
	if currentTaskID != "" {
		return StatusWorking
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if !lastBeatAt.IsZero() && now.Sub(lastBeatAt) <= staleAfter {
		return StatusIdle
	}
	return StatusOffline
}
