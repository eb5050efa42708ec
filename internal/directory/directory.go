// Package directory provides read-only lookups of agent and lead
// configuration: trigger rules, sequence definitions, capability flags,
// and lead records for templating and source filtering.
package directory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/camdenward/leadline/internal/models"
	"gorm.io/gorm"
)

// GetAgent returns an agent by ID with its rules and steps preloaded.
func GetAgent(db *gorm.DB, id uint) (*models.Agent, error) {
	var a models.Agent
	err := db.Preload("TriggerRules").Preload("SequenceSteps").First(&a, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("directory: agent %d: %w", id, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: agent %d: %w", id, err)
	}
	return &a, nil
}

// GetLead returns a lead by ID.
func GetLead(db *gorm.DB, id uint) (*models.Lead, error) {
	var l models.Lead
	err := db.First(&l, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("directory: lead %d: %w", id, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: lead %d: %w", id, err)
	}
	return &l, nil
}

// AgentsForEvent returns every active agent with a trigger rule matching
// the event kind whose condition (if any) is satisfied by the event data.
// Results are ordered for deterministic selection: agents with configured
// sequence steps first, then by lowest ID.
func AgentsForEvent(db *gorm.DB, eventKind string, eventData map[string]string) ([]models.Agent, error) {
	var agents []models.Agent
	err := db.Preload("TriggerRules").Preload("SequenceSteps").
		Joins("JOIN trigger_rules ON trigger_rules.agent_id = agents.id").
		Where("agents.active = ? AND trigger_rules.event_kind = ?", true, eventKind).
		Distinct("agents.*").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("directory: agents for event %q: %w", eventKind, err)
	}

	matched := agents[:0]
	for _, a := range agents {
		if ruleMatches(a.TriggerRules, eventKind, eventData) {
			matched = append(matched, a)
		}
	}
	OrderForSelection(matched)
	return matched, nil
}

// ruleMatches reports whether any of the agent's rules for the event kind
// passes its condition against the event data.
func ruleMatches(rules []models.TriggerRule, eventKind string, eventData map[string]string) bool {
	for _, r := range rules {
		if r.EventKind != eventKind {
			continue
		}
		if r.Condition == "" {
			return true
		}
		field, want, ok := strings.Cut(r.Condition, "=")
		if !ok {
			continue
		}
		if eventData[strings.TrimSpace(field)] == strings.TrimSpace(want) {
			return true
		}
	}
	return false
}

// OrderForSelection sorts agents in the deterministic selection order:
// sequence-capable agents before bare agents, then lowest ID.
func OrderForSelection(agents []models.Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		iSeq := len(agents[i].SequenceSteps) > 0
		jSeq := len(agents[j].SequenceSteps) > 0
		if iSeq != jSeq {
			return iSeq
		}
		return agents[i].ID < agents[j].ID
	})
}

// StepsFor returns the agent's sequence steps for an event, ordered by
// position. An event with no steps returns an empty slice, not an error.
func StepsFor(db *gorm.DB, agentID uint, eventKind string) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := db.Where("agent_id = ? AND event_kind = ?", agentID, eventKind).
		Order("position ASC").
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("directory: steps for agent %d event %q: %w", agentID, eventKind, err)
	}
	return steps, nil
}

// AllowsSource reports whether the agent accepts leads from the given
// source. An empty allow-list accepts every source.
func AllowsSource(a *models.Agent, source string) bool {
	if a.LeadSources == "" || a.LeadSources == "[]" {
		return true
	}
	var allowed []string
	if err := json.Unmarshal([]byte(a.LeadSources), &allowed); err != nil {
		return true
	}
	if len(allowed) == 0 {
		return true
	}
	for _, s := range allowed {
		if s == source {
			return true
		}
	}
	return false
}
