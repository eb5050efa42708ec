// Package control wires session transitions to their side effects:
// cascade-cancelling follow-up tasks, audit logging, and operator
// notifications. The REST layer and the CLI both drive sessions through
// it.
package control

import (
	"fmt"
	"log"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/camdenward/leadline/internal/session"
	"gorm.io/gorm"
)

// Notifier receives operator alerts. Nil disables them.
type Notifier interface {
	Notify(kind, title, detail string)
}

// Controller exposes the manual session operations.
type Controller struct {
	db       *gorm.DB
	clk      clock.Clock
	seq      *sequencer.Sequencer
	notifier Notifier
}

// Opts holds parameters for creating a Controller.
type Opts struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Sequencer *sequencer.Sequencer
	Notifier  Notifier
}

// New creates a Controller.
func New(opts Opts) (*Controller, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("control: db is required")
	}
	if opts.Sequencer == nil {
		return nil, fmt.Errorf("control: sequencer is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{db: opts.DB, clk: clk, seq: opts.Sequencer, notifier: opts.Notifier}, nil
}

// Takeover suspends automated replies so a human can own the session.
func (c *Controller) Takeover(sessionID uint, actor, reason string) error {
	if err := session.Takeover(c.db, c.clk, sessionID, actor, reason); err != nil {
		return err
	}
	c.logEvent(sessionID, models.LogTakenOver, fmt.Sprintf("actor=%s reason=%s", actor, reason))
	if c.notifier != nil {
		c.notifier.Notify("takeover",
			fmt.Sprintf("Session %d taken over", sessionID),
			fmt.Sprintf("%s: %s", actor, reason))
	}
	return nil
}

// Release returns a taken-over session to automated handling.
func (c *Controller) Release(sessionID uint) error {
	if err := session.Release(c.db, c.clk, sessionID); err != nil {
		return err
	}
	c.logEvent(sessionID, models.LogReleased, "")
	return nil
}

// End completes a session and cancels its remaining tasks. The session
// exclusively owns its task set, so termination cascades.
func (c *Controller) End(sessionID uint, reason, escalatedTo string) error {
	if err := session.End(c.db, c.clk, sessionID, reason, escalatedTo); err != nil {
		return err
	}
	if _, err := c.seq.CancelPending(sessionID, nil, "session ended"); err != nil {
		log.Printf("control: cancel tasks for ended session %d: %v", sessionID, err)
	}
	c.logEvent(sessionID, models.LogEnded, reason)
	return nil
}

// logEvent appends an audit row; failures are logged, never surfaced.
func (c *Controller) logEvent(sessionID uint, kind, detail string) {
	s, err := session.Get(c.db, sessionID)
	leadID := uint(0)
	if err == nil {
		leadID = s.LeadID
	}
	entry := models.EventLog{
		SessionID: sessionID,
		LeadID:    leadID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: c.clk.Now(),
	}
	if err := c.db.Create(&entry).Error; err != nil {
		log.Printf("control: event log: %v", err)
	}
}
