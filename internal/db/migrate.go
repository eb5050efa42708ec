package db

import (
	"encoding/json"
	"fmt"

	"github.com/camdenward/leadline/internal/config"
	"github.com/camdenward/leadline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Agent{},
		&models.TriggerRule{},
		&models.SequenceStep{},
		&models.Lead{},
		&models.ConversationSession{},
		&models.FollowUpTask{},
		&models.Message{},
		&models.EventLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DropAll drops every Leadline table. Used by `ll db reset`.
func DropAll(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return nil
}

// SeedAgents upserts Agent rows (and replaces their trigger rules and
// sequence steps) from configuration. Rules and steps are replaced
// wholesale so a config edit fully takes effect on re-seed.
func SeedAgents(db *gorm.DB, agents []config.AgentConfig) error {
	for _, ac := range agents {
		sources, err := marshalJSON(ac.LeadSources)
		if err != nil {
			return fmt.Errorf("db: marshal lead_sources for agent %q: %w", ac.Name, err)
		}

		agent := models.Agent{
			Name:            ac.Name,
			UseCase:         ac.UseCase,
			DefaultGoal:     ac.DefaultGoal,
			MaxMessageCount: ac.MaxMessageCount,
			TimeoutHours:    ac.TimeoutHours,
			Active:          true,
			LeadSources:     sources,
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"use_case", "default_goal", "max_message_count", "timeout_hours", "active", "lead_sources"}),
			}).Create(&agent)
			if result.Error != nil {
				return fmt.Errorf("upsert agent %q: %w", ac.Name, result.Error)
			}

			// Upsert-by-name leaves agent.ID zero on conflict; re-read it.
			var saved models.Agent
			if err := tx.Where("name = ?", ac.Name).First(&saved).Error; err != nil {
				return fmt.Errorf("reload agent %q: %w", ac.Name, err)
			}

			if err := tx.Where("agent_id = ?", saved.ID).Delete(&models.TriggerRule{}).Error; err != nil {
				return fmt.Errorf("clear trigger rules for %q: %w", ac.Name, err)
			}
			for _, tr := range ac.Triggers {
				rule := models.TriggerRule{
					AgentID:   saved.ID,
					EventKind: tr.Event,
					Condition: tr.Condition,
				}
				if err := tx.Create(&rule).Error; err != nil {
					return fmt.Errorf("seed trigger rule %q/%q: %w", ac.Name, tr.Event, err)
				}
			}

			if err := tx.Where("agent_id = ?", saved.ID).Delete(&models.SequenceStep{}).Error; err != nil {
				return fmt.Errorf("clear sequence steps for %q: %w", ac.Name, err)
			}
			for _, st := range ac.Sequences {
				step := models.SequenceStep{
					AgentID:      saved.ID,
					EventKind:    st.Event,
					Position:     st.Position,
					Delay:        st.Delay,
					DelayUnit:    st.Unit,
					DelayMinutes: st.DelayMinutes(),
					Template:     st.Template,
				}
				if err := tx.Create(&step).Error; err != nil {
					return fmt.Errorf("seed sequence step %q/%q[%d]: %w", ac.Name, st.Event, st.Position, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("db: seed agent %q: %w", ac.Name, err)
		}
	}
	return nil
}

// marshalJSON marshals v to a JSON string, returning "[]" for empty slices.
func marshalJSON(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
