package domain

// LiveMonitorJob correlates an external live-monitor job with the market it
// watches. The job store owning these entries is the single source of truth
// for "is this market still being watched"; an entry is deleted the moment
// the market's outcome is decided by either trigger.
type LiveMonitorJob struct {
	JobID    string `json:"jobId"` // opaque handle assigned by the monitor
	MarketID uint64 `json:"marketId"`
	Deadline int64  `json:"deadline"` // unix seconds
}

// Monitor webhook event types.
const (
	MonitorEventTriggered  = "watch_triggered"
	MonitorEventJobStopped = "job_stopped"
	MonitorEventError      = "error"
)

// MonitorEvent is the inbound webhook payload from the live-condition
// monitor. JobID may arrive top-level or nested under data for error events;
// the HTTP layer normalizes it before handing the event over.
type MonitorEvent struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
}
