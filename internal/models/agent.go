package models

import "time"

// Agent is an automated conversation agent configuration. An agent owns
// the trigger rules that select it for inbound events and the follow-up
// sequence steps it schedules against its sessions.
type Agent struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Name            string `gorm:"size:64;not null;uniqueIndex"`
	UseCase         string `gorm:"size:32;not null"` // e.g. "sales", "support", "booking"
	DefaultGoal     string `gorm:"size:128"`
	MaxMessageCount int    `gorm:"default:100"`
	TimeoutHours    int    `gorm:"default:24"`
	Active          bool   `gorm:"default:true;index"`
	LeadSources     string `gorm:"type:json"` // JSON array of allowed lead sources; empty = all
	CreatedAt       time.Time

	TriggerRules  []TriggerRule  `gorm:"foreignKey:AgentID"`
	SequenceSteps []SequenceStep `gorm:"foreignKey:AgentID"`
}

// TriggerRule matches an external event kind to an agent. Condition is an
// optional key=value restriction evaluated against the event payload.
type TriggerRule struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AgentID   uint   `gorm:"not null;index"`
	EventKind string `gorm:"size:32;not null;index"`
	Condition string `gorm:"size:128"` // "field=value" or empty for unconditional
}

// SequenceStep is one delayed follow-up in an agent's sequence for a
// trigger event. Delay is stored in the unit the operator configured;
// DelayMinutes is the normalized value the scheduler computes with.
type SequenceStep struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	AgentID      uint    `gorm:"not null;index:idx_agent_event"`
	EventKind    string  `gorm:"size:32;not null;index:idx_agent_event"`
	Position     int     `gorm:"not null"`
	Delay        float64 `gorm:"not null"`
	DelayUnit    string  `gorm:"size:8;not null"` // "minutes", "hours", "days"
	DelayMinutes float64 `gorm:"not null"`
	Template     string  `gorm:"type:text;not null"`
}
