package models

import "time"

// EventLog records notable lifecycle events for audit and debugging:
// escalations, timeouts, takeovers, dispatch skips, reply failures.
type EventLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID uint   `gorm:"index"`
	LeadID    uint   `gorm:"index"`
	Kind      string `gorm:"size:32;not null;index"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}

// EventLog kinds.
const (
	LogEscalated    = "escalated"
	LogTimedOut     = "timed_out"
	LogTakenOver    = "taken_over"
	LogReleased     = "released"
	LogEnded        = "ended"
	LogDispatchSkip = "dispatch_skip"
	LogReplyFailure = "reply_failure"
)
