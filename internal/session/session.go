// Package session implements the conversation session state machine.
//
// A session owns one lead/agent conversation. Lifecycle: active is the
// initial status; escalated, timeout, and completed are terminal; active
// and taken_over convert back and forth via takeover/release. At most one
// session per lead is open (active or taken_over) at any time; creation
// re-checks that invariant inside a transaction, the same way a dispatch
// lock would.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/models"
	"gorm.io/gorm"
)

// openStatuses are the statuses that count toward the one-per-lead rule.
var openStatuses = []string{models.SessionActive, models.SessionTakenOver}

// SequenceState tracks progress of one follow-up sequence on a session.
type SequenceState struct {
	Active      bool `json:"active"`
	CurrentStep int  `json:"current_step"`
	TotalSteps  int  `json:"total_steps"`
}

// CreateOpts holds parameters for creating a session.
type CreateOpts struct {
	AgentID         uint
	LeadID          uint
	TriggerType     string
	Goal            string
	TimeoutHours    int
	MaxMessageCount int
}

// Create opens a new session for a lead. It returns ErrLeadOwned if the
// lead already has an open session; the check and the insert share one
// transaction so two concurrent creators cannot both succeed.
func Create(db *gorm.DB, clk clock.Clock, opts CreateOpts) (*models.ConversationSession, error) {
	if opts.AgentID == 0 {
		return nil, fmt.Errorf("session: agentID is required")
	}
	if opts.LeadID == 0 {
		return nil, fmt.Errorf("session: leadID is required")
	}

	var created *models.ConversationSession
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.ConversationSession
		result := tx.Where("lead_id = ? AND status IN ?", opts.LeadID, openStatuses).First(&existing)
		if result.Error == nil {
			return ErrLeadOwned
		}
		if result.Error != gorm.ErrRecordNotFound {
			return fmt.Errorf("check open session: %w", result.Error)
		}

		now := clk.Now()
		created = &models.ConversationSession{
			AgentID:         opts.AgentID,
			LeadID:          opts.LeadID,
			TriggerType:     opts.TriggerType,
			Status:          models.SessionActive,
			Goal:            opts.Goal,
			LastMessageAt:   now,
			TimeoutHours:    opts.TimeoutHours,
			MaxMessageCount: opts.MaxMessageCount,
			SequenceStates:  "{}",
			CreatedAt:       now,
		}
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == ErrLeadOwned {
			return nil, err
		}
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return created, nil
}

// FindOpen returns the lead's open session, or ErrNotFound.
func FindOpen(db *gorm.DB, leadID uint) (*models.ConversationSession, error) {
	var s models.ConversationSession
	err := db.Where("lead_id = ? AND status IN ?", leadID, openStatuses).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: find open for lead %d: %w", leadID, err)
	}
	return &s, nil
}

// Get returns a session by ID, or ErrNotFound.
func Get(db *gorm.DB, id uint) (*models.ConversationSession, error) {
	var s models.ConversationSession
	err := db.First(&s, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %d: %w", id, err)
	}
	return &s, nil
}

// RecordMessage persists a message against the session and updates its
// counters in the same transaction; partial commits are impossible. The
// session must be open. Returns the stored message and the refreshed
// session.
func RecordMessage(db *gorm.DB, clk clock.Clock, sessionID uint, senderType, content, externalID string) (*models.ConversationSession, *models.Message, error) {
	fromAgent := senderType == models.SenderAgent
	var (
		msg     models.Message
		updated models.ConversationSession
	)

	err := db.Transaction(func(tx *gorm.DB) error {
		var s models.ConversationSession
		if err := tx.First(&s, sessionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return fmt.Errorf("load session: %w", err)
		}
		if !s.Open() {
			return ErrInvalidTransition
		}

		now := clk.Now()
		msg = models.Message{
			ExternalID: externalID,
			SessionID:  s.ID,
			LeadID:     s.LeadID,
			SenderType: senderType,
			Content:    content,
			CreatedAt:  now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		from := models.SenderLead
		if fromAgent {
			from = models.SenderAgent
		}
		// Status re-check in the WHERE clause: a concurrent terminal
		// transition between the load above and this update loses us the
		// race, and the whole transaction rolls back.
		result := tx.Model(&models.ConversationSession{}).
			Where("id = ? AND status IN ?", s.ID, openStatuses).
			Updates(map[string]interface{}{
				"message_count":     gorm.Expr("message_count + 1"),
				"last_message_at":   now,
				"last_message_from": from,
			})
		if result.Error != nil {
			return fmt.Errorf("update counters: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		if err := tx.First(&updated, s.ID).Error; err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == ErrNotFound || err == ErrInvalidTransition {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("session: record message: %w", err)
	}
	return &updated, &msg, nil
}

// ShouldEscalate reports whether the session has reached its message cap.
func ShouldEscalate(s *models.ConversationSession) bool {
	return s.Status == models.SessionActive && s.MessageCount >= s.MaxMessageCount
}

// IsTimeoutEligible reports whether the session has been idle past its
// timeout window as of now. Timeouts are evaluated lazily by callers;
// there is no live timer.
func IsTimeoutEligible(s *models.ConversationSession, now time.Time) bool {
	if s.Status != models.SessionActive {
		return false
	}
	window := time.Duration(s.TimeoutHours) * time.Hour
	return now.Sub(s.LastMessageAt) > window
}

// Escalate transitions an active session to escalated.
func Escalate(db *gorm.DB, clk clock.Clock, sessionID uint, reason string) error {
	return transition(db, clk, sessionID, []string{models.SessionActive}, models.SessionEscalated, reason, "")
}

// MarkTimeout transitions an active session to timeout.
func MarkTimeout(db *gorm.DB, clk clock.Clock, sessionID uint) error {
	return transition(db, clk, sessionID, []string{models.SessionActive}, models.SessionTimeout, "auto_timeout", "")
}

// End completes a session from any open status. escalatedTo optionally
// names who inherited the conversation.
func End(db *gorm.DB, clk clock.Clock, sessionID uint, reason, escalatedTo string) error {
	return transition(db, clk, sessionID, openStatuses, models.SessionCompleted, reason, escalatedTo)
}

// Takeover suspends automated replies: active -> taken_over.
func Takeover(db *gorm.DB, clk clock.Clock, sessionID uint, actor, reason string) error {
	return transition(db, clk, sessionID, []string{models.SessionActive}, models.SessionTakenOver, reason, actor)
}

// Release returns a taken-over session to automated handling.
func Release(db *gorm.DB, clk clock.Clock, sessionID uint) error {
	result := db.Model(&models.ConversationSession{}).
		Where("id = ? AND status = ?", sessionID, models.SessionTakenOver).
		Updates(map[string]interface{}{
			"status":       models.SessionActive,
			"end_reason":   "",
			"escalated_to": "",
		})
	if result.Error != nil {
		return fmt.Errorf("session: release %d: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return classifyMiss(db, sessionID)
	}
	return nil
}

// transition flips status with a guard on the allowed source statuses.
// RowsAffected==0 distinguishes a missing session from an illegal
// transition.
func transition(db *gorm.DB, clk clock.Clock, sessionID uint, from []string, to, reason, escalatedTo string) error {
	now := clk.Now()
	updates := map[string]interface{}{
		"status":     to,
		"end_reason": reason,
	}
	if escalatedTo != "" {
		updates["escalated_to"] = escalatedTo
	}
	if to != models.SessionTakenOver {
		updates["ended_at"] = now
	}

	result := db.Model(&models.ConversationSession{}).
		Where("id = ? AND status IN ?", sessionID, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("session: transition %d to %s: %w", sessionID, to, result.Error)
	}
	if result.RowsAffected == 0 {
		return classifyMiss(db, sessionID)
	}
	return nil
}

// classifyMiss decides whether a guarded update missed because the session
// does not exist or because it is in the wrong state.
func classifyMiss(db *gorm.DB, sessionID uint) error {
	var s models.ConversationSession
	if err := db.First(&s, sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("session: load %d: %w", sessionID, err)
	}
	return ErrInvalidTransition
}

// SetSequenceState records follow-up sequence progress on the session's
// JSON state column.
func SetSequenceState(db *gorm.DB, sessionID uint, name string, state SequenceState) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var s models.ConversationSession
		if err := tx.First(&s, sessionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return fmt.Errorf("session: load %d: %w", sessionID, err)
		}

		states := make(map[string]SequenceState)
		if s.SequenceStates != "" {
			if err := json.Unmarshal([]byte(s.SequenceStates), &states); err != nil {
				return fmt.Errorf("session: parse sequence states: %w", err)
			}
		}
		states[name] = state

		raw, err := json.Marshal(states)
		if err != nil {
			return fmt.Errorf("session: marshal sequence states: %w", err)
		}
		if err := tx.Model(&models.ConversationSession{}).
			Where("id = ?", sessionID).
			Update("sequence_states", string(raw)).Error; err != nil {
			return fmt.Errorf("session: store sequence states: %w", err)
		}
		return nil
	})
}

// SequenceStates parses the session's sequence progress column.
func SequenceStates(s *models.ConversationSession) (map[string]SequenceState, error) {
	states := make(map[string]SequenceState)
	if s.SequenceStates == "" {
		return states, nil
	}
	if err := json.Unmarshal([]byte(s.SequenceStates), &states); err != nil {
		return nil, fmt.Errorf("session: parse sequence states: %w", err)
	}
	return states, nil
}
