package sequencer

import (
	"fmt"
	"log"

	"github.com/camdenward/leadline/internal/directory"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/session"
	"gorm.io/gorm"
)

// Report summarizes one executor pass.
type Report struct {
	Executed int
	Failed   int
	Skipped  int
}

// ExecuteDueTasks processes pending tasks whose scheduled time has
// arrived, oldest first, up to batchSize. Per-task outcomes are isolated:
// one bad task never aborts the batch. Tasks are claimed by a guarded
// status flip, so a concurrent executor (or a duplicate pass over the
// same batch) loses the flip and records a skip instead of a double
// execution.
func (q *Sequencer) ExecuteDueTasks(batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var due []models.FollowUpTask
	err := q.db.Where("status = ? AND scheduled_at <= ?", models.TaskPending, q.clk.Now()).
		Order("scheduled_at ASC").
		Limit(batchSize).
		Find(&due).Error
	if err != nil {
		return Report{}, fmt.Errorf("sequencer: select due tasks: %w", err)
	}

	var report Report
	for _, task := range due {
		outcome, err := q.executeTask(task)
		if err != nil {
			log.Printf("sequencer: task %d (session %d, %s #%d): %v",
				task.ID, task.SessionID, task.TriggerEvent, task.Position, err)
			if retryErr := q.ScheduleRetry(task.ID, DefaultRetryDelay, err.Error()); retryErr != nil {
				log.Printf("sequencer: task %d retry scheduling: %v", task.ID, retryErr)
			}
			report.Failed++
			continue
		}
		switch outcome {
		case models.TaskExecuted:
			report.Executed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// executeTask runs one due task and returns the status it reached. A lost
// claim returns TaskPending, counted as a skip.
func (q *Sequencer) executeTask(task models.FollowUpTask) (string, error) {
	s, err := session.Get(q.db, task.SessionID)
	if err != nil {
		if err == session.ErrNotFound {
			q.resolveTask(task.ID, models.TaskCancelled, "session not found")
			return models.TaskCancelled, nil
		}
		return "", err
	}

	// A task only fires into an active session. Taken-over, ended, and
	// timed-out sessions all cancel the nudge.
	if s.Status != models.SessionActive {
		if !q.resolveTask(task.ID, models.TaskCancelled, "session not active") {
			return models.TaskPending, nil
		}
		return models.TaskCancelled, nil
	}

	if ResponseSensitive(task.TriggerEvent) {
		responded, err := q.leadRespondedSince(task)
		if err != nil {
			return "", err
		}
		if responded {
			if !q.resolveTask(task.ID, models.TaskCancelled, "lead responded") {
				return models.TaskPending, nil
			}
			return models.TaskCancelled, nil
		}
	}

	lead, err := directory.GetLead(q.db, task.LeadID)
	if err != nil {
		return "", err
	}
	agent, err := directory.GetAgent(q.db, task.AgentID)
	if err != nil {
		return "", err
	}
	content := RenderTemplate(task.Template, TemplateContext{
		Lead:    lead,
		Agent:   agent,
		Session: s,
		Task:    &task,
	})

	claimed := false
	err = q.db.Transaction(func(tx *gorm.DB) error {
		now := q.clk.Now()
		// Claim first: the flip out of pending is the execution lock.
		result := tx.Model(&models.FollowUpTask{}).
			Where("id = ? AND status = ?", task.ID, models.TaskPending).
			Updates(map[string]interface{}{
				"status":        models.TaskExecuted,
				"status_reason": "",
				"resolved_at":   now,
			})
		if result.Error != nil {
			return fmt.Errorf("claim task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil // already transitioned elsewhere; benign
		}
		claimed = true

		_, msg, err := session.RecordMessage(tx, q.clk, s.ID, models.SenderAgent, content, "")
		if err != nil {
			return fmt.Errorf("persist nudge message: %w", err)
		}
		if err := tx.Model(&models.FollowUpTask{}).
			Where("id = ?", task.ID).
			Update("message_id", msg.ID).Error; err != nil {
			return fmt.Errorf("link message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !claimed {
		return models.TaskPending, nil
	}

	if err := session.SetSequenceState(q.db, s.ID, task.SequenceName, session.SequenceState{
		Active:      task.Position < task.TotalSteps,
		CurrentStep: task.Position,
		TotalSteps:  task.TotalSteps,
	}); err != nil {
		log.Printf("sequencer: task %d sequence state: %v", task.ID, err)
	}
	return models.TaskExecuted, nil
}

// leadRespondedSince reports whether the lead sent a message after the
// task batch was created.
func (q *Sequencer) leadRespondedSince(task models.FollowUpTask) (bool, error) {
	var n int64
	err := q.db.Model(&models.Message{}).
		Where("session_id = ? AND sender_type = ? AND created_at > ?",
			task.SessionID, models.SenderLead, task.CreatedAt).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check lead response: %w", err)
	}
	return n > 0, nil
}

// resolveTask flips a pending task to a terminal status. Returns false if
// the task had already left pending (a benign race loss).
func (q *Sequencer) resolveTask(taskID uint, status, reason string) bool {
	result := q.db.Model(&models.FollowUpTask{}).
		Where("id = ? AND status = ?", taskID, models.TaskPending).
		Updates(map[string]interface{}{
			"status":        status,
			"status_reason": reason,
			"resolved_at":   q.clk.Now(),
		})
	if result.Error != nil {
		log.Printf("sequencer: resolve task %d: %v", taskID, result.Error)
		return false
	}
	return result.RowsAffected > 0
}
