// Package dispatch matches external events (new lead, form submit,
// missed call, booking) against agent trigger configs and opens sessions
// for the matching agents.
package dispatch

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/config"
	"github.com/camdenward/leadline/internal/directory"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/camdenward/leadline/internal/session"
	"gorm.io/gorm"
)

// Responder receives the detached opening-message generation hand-off.
type Responder interface {
	EnqueueReply(sessionID uint, trigger string) bool
}

// Dispatcher creates sessions from external events.
type Dispatcher struct {
	db        *gorm.DB
	clk       clock.Clock
	seq       *sequencer.Sequencer
	responder Responder
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Sequencer *sequencer.Sequencer
	Responder Responder // optional
}

// New creates a Dispatcher.
func New(opts Opts) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Sequencer == nil {
		return nil, fmt.Errorf("dispatch: sequencer is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{db: opts.DB, clk: clk, seq: opts.Sequencer, responder: opts.Responder}, nil
}

// Dispatch matches eventType against every active agent's trigger rules
// and attempts session creation per match, sequence-capable agents first.
// The one-open-session-per-lead invariant means only the first attempt
// can succeed for a given lead; later attempts are logged skips, not
// errors. Returns the IDs of the sessions created.
func (d *Dispatcher) Dispatch(eventType string, eventData map[string]string) ([]uint, error) {
	if !config.KnownEventKinds[eventType] {
		return nil, fmt.Errorf("dispatch: unknown event type %q", eventType)
	}

	lead, err := d.resolveLead(eventData)
	if err != nil {
		return nil, err
	}

	agents, err := directory.AgentsForEvent(d.db, eventType, eventData)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	var created []uint
	for i := range agents {
		agent := &agents[i]
		if !directory.AllowsSource(agent, lead.Source) {
			continue
		}

		s, err := session.Create(d.db, d.clk, session.CreateOpts{
			AgentID:         agent.ID,
			LeadID:          lead.ID,
			TriggerType:     eventType,
			Goal:            agent.DefaultGoal,
			TimeoutHours:    agent.TimeoutHours,
			MaxMessageCount: agent.MaxMessageCount,
		})
		if err == session.ErrLeadOwned {
			log.Printf("dispatch: lead %d already owned, skipping agent %d (%s)", lead.ID, agent.ID, agent.Name)
			d.logSkip(lead.ID, agent.ID, eventType)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("dispatch: create session for agent %d: %w", agent.ID, err)
		}
		created = append(created, s.ID)

		d.armSequences(s, eventType, eventData)

		if d.responder != nil {
			if !d.responder.EnqueueReply(s.ID, "initial") {
				log.Printf("dispatch: reply queue full, session %d opening message dropped", s.ID)
			}
		}
	}
	return created, nil
}

// armSequences schedules the follow-up batches a fresh session starts
// with: the inactivity nudges, and for bookings the reminder sequence
// anchored to the appointment time (its negative delays land before it).
func (d *Dispatcher) armSequences(s *models.ConversationSession, eventType string, eventData map[string]string) {
	now := d.clk.Now()
	if _, err := d.seq.ScheduleSequence(s.ID, "no_response", now); err != nil {
		log.Printf("dispatch: schedule no_response for session %d: %v", s.ID, err)
	}

	if eventType == "appointment_scheduled" {
		ref := now
		if raw := eventData["appointment_at"]; raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				ref = t
			} else {
				log.Printf("dispatch: bad appointment_at %q: %v", raw, err)
			}
		}
		if _, err := d.seq.ScheduleSequence(s.ID, "appointment_reminder", ref); err != nil {
			log.Printf("dispatch: schedule appointment_reminder for session %d: %v", s.ID, err)
		}
	}
}

// resolveLead finds the event's lead by id, or by phone/email, creating a
// new lead row when the event is the first contact.
func (d *Dispatcher) resolveLead(eventData map[string]string) (*models.Lead, error) {
	if raw := eventData["lead_id"]; raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("dispatch: bad lead_id %q: %w", raw, err)
		}
		return directory.GetLead(d.db, uint(id))
	}

	phone := eventData["phone"]
	email := eventData["email"]
	if phone == "" && email == "" {
		return nil, fmt.Errorf("dispatch: event data has no lead_id, phone, or email")
	}

	var lead models.Lead
	query := d.db
	switch {
	case phone != "" && email != "":
		query = query.Where("phone = ? OR email = ?", phone, email)
	case phone != "":
		query = query.Where("phone = ?", phone)
	default:
		query = query.Where("email = ?", email)
	}
	err := query.First(&lead).Error
	if err == nil {
		return &lead, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("dispatch: find lead: %w", err)
	}

	lead = models.Lead{
		Name:      eventData["name"],
		Phone:     phone,
		Email:     email,
		Source:    eventData["source"],
		CreatedAt: d.clk.Now(),
	}
	if err := d.db.Create(&lead).Error; err != nil {
		return nil, fmt.Errorf("dispatch: create lead: %w", err)
	}
	return &lead, nil
}

// logSkip records a dispatch skip for audit.
func (d *Dispatcher) logSkip(leadID, agentID uint, eventType string) {
	entry := models.EventLog{
		LeadID:    leadID,
		Kind:      models.LogDispatchSkip,
		Detail:    fmt.Sprintf("event %s: agent %d skipped, lead already owned", eventType, agentID),
		CreatedAt: d.clk.Now(),
	}
	if err := d.db.Create(&entry).Error; err != nil {
		log.Printf("dispatch: event log: %v", err)
	}
}
