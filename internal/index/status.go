package index

import "time"

const (
	workingWindow = time.Minute
	activeWindow  = 5 * time.Minute
	idleWindow    = 30 * time.Minute
)

// ClassifyStatus derives a session's status from how long ago it was last
// active. It is recomputed on every scan, so a session with no new events
// drifts from working to completed as wall-clock time passes.
func ClassifyStatus(lastActivity, now time.Time) Status {
	elapsed := now.Sub(lastActivity)
	switch {
	case elapsed < workingWindow:
		return StatusWorking
	case elapsed < activeWindow:
		return StatusActive
	case elapsed < idleWindow:
		return StatusIdle
	default:
		return StatusCompleted
	}
}
