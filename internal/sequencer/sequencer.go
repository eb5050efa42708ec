// Package sequencer creates, executes, and cancels the delayed follow-up
// tasks attached to conversation sessions. Delays are normalized to
// fractional minutes internally; the configured unit and magnitude are
// kept on each task for display and audit.
package sequencer

import (
	"fmt"
	"strings"
	"time"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/directory"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/session"
	"gorm.io/gorm"
)

// DefaultRetryDelay is the re-queue delay applied when a task execution
// fails and retries remain.
const DefaultRetryDelay = 5 * time.Minute

// Sequencer schedules and drives follow-up tasks.
type Sequencer struct {
	db  *gorm.DB
	clk clock.Clock
}

// Opts holds parameters for creating a Sequencer.
type Opts struct {
	DB    *gorm.DB
	Clock clock.Clock
}

// New creates a Sequencer.
func New(opts Opts) (*Sequencer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("sequencer: db is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sequencer{db: opts.DB, clk: clk}, nil
}

// ResponseSensitive reports whether tasks for the trigger event must be
// cancelled once the lead replies. Only inactivity nudges qualify.
func ResponseSensitive(triggerEvent string) bool {
	return strings.HasPrefix(triggerEvent, "no_response")
}

// ScheduleSequence creates the full task batch for the owning agent's
// sequence steps under triggerEvent. Each task is scheduled at
// referenceTime plus the step delay; negative delays subtract, which is
// how reminder-before-event sequences are expressed. All tasks are
// created in one transaction; no partial batch is ever visible. An agent
// with no steps for the event yields an empty result, not an error.
func (q *Sequencer) ScheduleSequence(sessionID uint, triggerEvent string, referenceTime time.Time) ([]uint, error) {
	s, err := session.Get(q.db, sessionID)
	if err != nil {
		return nil, err
	}

	steps, err := directory.StepsFor(q.db, s.AgentID, triggerEvent)
	if err != nil {
		return nil, fmt.Errorf("sequencer: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(steps))
	err = q.db.Transaction(func(tx *gorm.DB) error {
		now := q.clk.Now()
		for _, step := range steps {
			delay := time.Duration(step.DelayMinutes * float64(time.Minute))
			task := models.FollowUpTask{
				SessionID:    s.ID,
				LeadID:       s.LeadID,
				AgentID:      s.AgentID,
				SequenceName: triggerEvent,
				Position:     step.Position,
				TotalSteps:   len(steps),
				TriggerEvent: triggerEvent,
				ScheduledAt:  referenceTime.Add(delay),
				Status:       models.TaskPending,
				Template:     step.Template,
				Delay:        step.Delay,
				DelayUnit:    step.DelayUnit,
				CreatedAt:    now,
			}
			if err := tx.Create(&task).Error; err != nil {
				return fmt.Errorf("create task position %d: %w", step.Position, err)
			}
			ids = append(ids, task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sequencer: schedule %q for session %d: %w", triggerEvent, sessionID, err)
	}

	if err := session.SetSequenceState(q.db, s.ID, triggerEvent, session.SequenceState{
		Active:     true,
		TotalSteps: len(steps),
	}); err != nil {
		return ids, fmt.Errorf("sequencer: record sequence state: %w", err)
	}
	return ids, nil
}

// CancelPending bulk-cancels the session's pending tasks. taskTypes
// restricts cancellation to the named trigger events; empty means all.
// Used on lead response and on session termination (cascade-cancel).
func (q *Sequencer) CancelPending(sessionID uint, taskTypes []string, reason string) (int64, error) {
	now := q.clk.Now()
	query := q.db.Model(&models.FollowUpTask{}).
		Where("session_id = ? AND status = ?", sessionID, models.TaskPending)
	if len(taskTypes) > 0 {
		query = query.Where("trigger_event IN ?", taskTypes)
	}
	result := query.Updates(map[string]interface{}{
		"status":        models.TaskCancelled,
		"status_reason": reason,
		"resolved_at":   now,
	})
	if result.Error != nil {
		return 0, fmt.Errorf("sequencer: cancel pending for session %d: %w", sessionID, result.Error)
	}
	return result.RowsAffected, nil
}

// HandleLeadResponse cancels every pending inactivity nudge for the
// session. Once a human replies, no further no_response task may fire.
func (q *Sequencer) HandleLeadResponse(sessionID uint) (int64, error) {
	result := q.db.Model(&models.FollowUpTask{}).
		Where("session_id = ? AND status = ? AND trigger_event LIKE ?",
			sessionID, models.TaskPending, "no_response%").
		Updates(map[string]interface{}{
			"status":        models.TaskCancelled,
			"status_reason": "lead responded",
			"resolved_at":   q.clk.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("sequencer: handle lead response for session %d: %w", sessionID, result.Error)
	}
	return result.RowsAffected, nil
}

// ScheduleRetry re-queues a failed execution attempt. The task stays
// pending with an incremented retry count until maxRetries is reached, at
// which point it permanently fails with the final reason.
func (q *Sequencer) ScheduleRetry(taskID uint, delay time.Duration, reason string) error {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return q.db.Transaction(func(tx *gorm.DB) error {
		var task models.FollowUpTask
		if err := tx.First(&task, taskID).Error; err != nil {
			return fmt.Errorf("sequencer: load task %d: %w", taskID, err)
		}

		now := q.clk.Now()
		if task.RetryCount+1 >= task.MaxRetries {
			result := tx.Model(&models.FollowUpTask{}).
				Where("id = ? AND status = ?", taskID, models.TaskPending).
				Updates(map[string]interface{}{
					"status":        models.TaskFailed,
					"retry_count":   task.RetryCount + 1,
					"status_reason": reason,
					"resolved_at":   now,
				})
			if result.Error != nil {
				return fmt.Errorf("sequencer: fail task %d: %w", taskID, result.Error)
			}
			return nil
		}

		result := tx.Model(&models.FollowUpTask{}).
			Where("id = ? AND status = ?", taskID, models.TaskPending).
			Updates(map[string]interface{}{
				"retry_count":   task.RetryCount + 1,
				"scheduled_at":  now.Add(delay),
				"status_reason": reason,
			})
		if result.Error != nil {
			return fmt.Errorf("sequencer: retry task %d: %w", taskID, result.Error)
		}
		return nil
	})
}
