package models

import "time"

// ConversationSession statuses. Active and taken_over are the "open"
// statuses; at most one open session exists per lead at any time.
const (
	SessionActive    = "active"
	SessionPaused    = "paused"
	SessionTakenOver = "taken_over"
	SessionEscalated = "escalated"
	SessionTimeout   = "timeout"
	SessionCompleted = "completed"
)

// Message sender types.
const (
	SenderAgent         = "agent"
	SenderLead          = "lead"
	SenderSystem        = "system"
	SenderBusinessOwner = "business_owner"
)

// ConversationSession tracks one bounded conversation between an agent
// configuration and a lead.
type ConversationSession struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	AgentID         uint   `gorm:"not null;index"`
	LeadID          uint   `gorm:"not null;index"`
	TriggerType     string `gorm:"size:32;not null"`
	Status          string `gorm:"size:16;default:active;index"`
	Goal            string `gorm:"size:128"`
	MessageCount    int    `gorm:"default:0"`
	LastMessageAt   time.Time
	LastMessageFrom string `gorm:"size:16"` // "agent" or "lead"
	TimeoutHours    int    `gorm:"default:24"`
	MaxMessageCount int    `gorm:"default:100"`
	EndReason       string `gorm:"size:128"`
	EscalatedTo     string `gorm:"size:64"`
	SequenceStates  string `gorm:"type:json"` // sequenceName -> {active, currentStep, totalSteps}
	CreatedAt       time.Time
	EndedAt         *time.Time

	Messages []Message      `gorm:"foreignKey:SessionID"`
	Tasks    []FollowUpTask `gorm:"foreignKey:SessionID"`
}

// Open reports whether the session still owns its lead's conversation.
func (s *ConversationSession) Open() bool {
	return s.Status == SessionActive || s.Status == SessionTakenOver
}

// Message stores a single message in a session's conversation history.
type Message struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID string `gorm:"size:64;index"` // uuid for dedup against webhook redelivery
	SessionID  uint   `gorm:"not null;index"`
	LeadID     uint   `gorm:"not null;index"`
	SenderType string `gorm:"size:16;not null"`
	Content    string `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}
