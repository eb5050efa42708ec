package models

import "time"

// FollowUpTask statuses. A task leaves pending exactly once.
const (
	TaskPending   = "pending"
	TaskExecuted  = "executed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// FollowUpTask is one scheduled nudge belonging to a session's follow-up
// sequence. Tasks for one (session, sequence) batch carry positions 1..N
// and are created in a single transaction.
type FollowUpTask struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	SessionID    uint      `gorm:"not null;index"`
	LeadID       uint      `gorm:"not null;index"`
	AgentID      uint      `gorm:"not null"`
	SequenceName string    `gorm:"size:32;not null;index"`
	Position     int       `gorm:"not null"`
	TotalSteps   int       `gorm:"not null"`
	TriggerEvent string    `gorm:"size:32;not null"`
	ScheduledAt  time.Time `gorm:"index"`
	Status       string    `gorm:"size:16;default:pending;index"`
	RetryCount   int       `gorm:"default:0"`
	MaxRetries   int       `gorm:"default:3"`
	Template     string    `gorm:"type:text"`
	Delay        float64   // as configured
	DelayUnit    string    `gorm:"size:8"`
	StatusReason string    `gorm:"size:128"`
	MessageID    *uint     // set when executed
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}
