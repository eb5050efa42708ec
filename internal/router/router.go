// Package router is the single entry point for inbound lead messages. It
// finds or lazily creates the owning session, updates counters, cancels
// pending nudges, and decides whether an automated reply should follow.
package router

import (
	"fmt"
	"log"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/directory"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/camdenward/leadline/internal/session"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Routing actions reported in Result.Action.
const (
	ActionRecorded  = "recorded"   // message appended to an existing session
	ActionCreated   = "created"    // new session opened for the lead
	ActionEscalated = "escalated"  // message tripped the escalation cap
	ActionTakenOver = "taken_over" // human owns the session; no auto reply
	ActionNoAgent   = "no_agent"   // no capable agent; valid terminal outcome
)

// Responder receives detached reply-generation work. The router never
// blocks on generation; it hands the job off and returns.
type Responder interface {
	EnqueueReply(sessionID uint, trigger string) bool
}

// Notifier receives operator-facing alerts for escalations and timeouts.
type Notifier interface {
	Notify(kind, title, detail string)
}

// Result describes the routing decision for one inbound message.
type Result struct {
	SessionID     uint
	MessageID     uint
	Created       bool
	ShouldRespond bool
	Action        string
	Goal          string
}

// Router routes inbound messages.
type Router struct {
	db        *gorm.DB
	clk       clock.Clock
	seq       *sequencer.Sequencer
	responder Responder
	notifier  Notifier
}

// Opts holds parameters for creating a Router.
type Opts struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Sequencer *sequencer.Sequencer
	Responder Responder // optional; nil disables reply hand-off
	Notifier  Notifier  // optional; nil disables alerts
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("router: db is required")
	}
	if opts.Sequencer == nil {
		return nil, fmt.Errorf("router: sequencer is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Router{
		db:        opts.DB,
		clk:       clk,
		seq:       opts.Sequencer,
		responder: opts.Responder,
		notifier:  opts.Notifier,
	}, nil
}

// Route handles one inbound lead message. metadata carries event payload
// fields used for agent trigger matching (e.g. channel, form name).
func (r *Router) Route(leadID uint, content, messageType string, metadata map[string]string) (*Result, error) {
	if leadID == 0 {
		return nil, fmt.Errorf("router: leadID is required")
	}
	if content == "" {
		return nil, fmt.Errorf("router: content is required")
	}

	s, err := session.FindOpen(r.db, leadID)
	switch {
	case err == session.ErrNotFound:
		return r.routeNew(leadID, content, metadata)
	case err != nil:
		return nil, fmt.Errorf("router: %w", err)
	}

	// Lazy timeout check against the pre-message idle gap. A stale
	// session is closed here and the message falls through to the
	// no-session path, so one inbound message can end an old
	// conversation and start a fresh one.
	if session.IsTimeoutEligible(s, r.clk.Now()) {
		if err := session.MarkTimeout(r.db, r.clk, s.ID); err != nil && err != session.ErrInvalidTransition {
			return nil, fmt.Errorf("router: timeout session %d: %w", s.ID, err)
		}
		if _, err := r.seq.CancelPending(s.ID, nil, "session timed out"); err != nil {
			log.Printf("router: cancel tasks for timed-out session %d: %v", s.ID, err)
		}
		r.logEvent(s, models.LogTimedOut, "idle past timeout window")
		return r.routeNew(leadID, content, metadata)
	}

	return r.routeExisting(s, content)
}

// routeExisting appends the message to the lead's open session.
func (r *Router) routeExisting(s *models.ConversationSession, content string) (*Result, error) {
	updated, msg, err := session.RecordMessage(r.db, r.clk, s.ID, models.SenderLead, content, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("router: record message: %w", err)
	}

	// The lead spoke: pending inactivity nudges must not fire.
	if _, err := r.seq.HandleLeadResponse(updated.ID); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	// Escalation is evaluated on lead messages only. Agent-authored
	// messages raise the counter but never trip the cap themselves.
	if session.ShouldEscalate(updated) {
		if err := session.Escalate(r.db, r.clk, updated.ID, "max_message_count_reached"); err != nil && err != session.ErrInvalidTransition {
			return nil, fmt.Errorf("router: escalate session %d: %w", updated.ID, err)
		}
		if _, err := r.seq.CancelPending(updated.ID, nil, "session escalated"); err != nil {
			log.Printf("router: cancel tasks for escalated session %d: %v", updated.ID, err)
		}
		r.logEvent(updated, models.LogEscalated, "max_message_count_reached")
		if r.notifier != nil {
			r.notifier.Notify("escalation",
				fmt.Sprintf("Session %d escalated", updated.ID),
				fmt.Sprintf("lead %d hit the %d-message cap", updated.LeadID, updated.MaxMessageCount))
		}
		return &Result{
			SessionID:     updated.ID,
			MessageID:     msg.ID,
			ShouldRespond: false,
			Action:        ActionEscalated,
			Goal:          updated.Goal,
		}, nil
	}

	if updated.Status == models.SessionTakenOver {
		return &Result{
			SessionID:     updated.ID,
			MessageID:     msg.ID,
			ShouldRespond: false,
			Action:        ActionTakenOver,
			Goal:          updated.Goal,
		}, nil
	}

	if r.responder != nil {
		if !r.responder.EnqueueReply(updated.ID, "response") {
			log.Printf("router: reply queue full, session %d response dropped", updated.ID)
		}
	}
	return &Result{
		SessionID:     updated.ID,
		MessageID:     msg.ID,
		ShouldRespond: true,
		Action:        ActionRecorded,
		Goal:          updated.Goal,
	}, nil
}

// routeNew selects a capable agent and opens a session for the lead.
func (r *Router) routeNew(leadID uint, content string, metadata map[string]string) (*Result, error) {
	lead, err := directory.GetLead(r.db, leadID)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	agents, err := directory.AgentsForEvent(r.db, "inbound_message", metadata)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	var chosen *models.Agent
	for i := range agents {
		if directory.AllowsSource(&agents[i], lead.Source) {
			chosen = &agents[i]
			break
		}
	}
	if chosen == nil {
		return &Result{ShouldRespond: false, Action: ActionNoAgent}, nil
	}

	goal := DeriveGoal(content, chosen.DefaultGoal)
	s, err := session.Create(r.db, r.clk, session.CreateOpts{
		AgentID:         chosen.ID,
		LeadID:          lead.ID,
		TriggerType:     "inbound_message",
		Goal:            goal,
		TimeoutHours:    chosen.TimeoutHours,
		MaxMessageCount: chosen.MaxMessageCount,
	})
	if err != nil {
		if err == session.ErrLeadOwned {
			// A concurrent creator won; re-route into the winner.
			winner, ferr := session.FindOpen(r.db, leadID)
			if ferr != nil {
				return nil, fmt.Errorf("router: lost create race, no winner: %w", ferr)
			}
			return r.routeExisting(winner, content)
		}
		return nil, fmt.Errorf("router: %w", err)
	}

	_, msg, err := session.RecordMessage(r.db, r.clk, s.ID, models.SenderLead, content, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("router: record first message: %w", err)
	}

	// Arm the inactivity sequence from the conversation start. If the
	// agent has no no_response steps this is a no-op.
	if _, err := r.seq.ScheduleSequence(s.ID, "no_response", r.clk.Now()); err != nil {
		log.Printf("router: schedule no_response for session %d: %v", s.ID, err)
	}

	if r.responder != nil {
		if !r.responder.EnqueueReply(s.ID, "initial") {
			log.Printf("router: reply queue full, session %d initial reply dropped", s.ID)
		}
	}
	return &Result{
		SessionID:     s.ID,
		MessageID:     msg.ID,
		Created:       true,
		ShouldRespond: true,
		Action:        ActionCreated,
		Goal:          goal,
	}, nil
}

// logEvent appends an EventLog row; failures are logged, never surfaced.
func (r *Router) logEvent(s *models.ConversationSession, kind, detail string) {
	entry := models.EventLog{
		SessionID: s.ID,
		LeadID:    s.LeadID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: r.clk.Now(),
	}
	if err := r.db.Create(&entry).Error; err != nil {
		log.Printf("router: event log: %v", err)
	}
}
