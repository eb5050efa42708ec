package reply

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/directory"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/session"
	"gorm.io/gorm"
)

// FallbackReply is persisted when generation fails for a conversation
// that still expects an answer. The inbound path must degrade, not crash.
const FallbackReply = "Thanks for reaching out! Someone will get back to you shortly."

// job is one queued generation request.
type job struct {
	sessionID uint
	trigger   string
}

// Pool runs reply generation on a bounded queue with a fixed worker
// count. The queue is the explicit hand-off between the synchronous
// routing path and the blocking LLM call: EnqueueReply never blocks, and
// a full queue is visible back-pressure rather than an unbounded
// goroutine pile.
type Pool struct {
	db      *gorm.DB
	clk     clock.Clock
	gen     Generator
	queue   chan job
	workers int
	wg      sync.WaitGroup
}

// PoolOpts holds parameters for creating a Pool.
type PoolOpts struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Generator Generator
	Workers   int
	QueueSize int
}

// NewPool creates a Pool.
func NewPool(opts PoolOpts) (*Pool, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reply: db is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("reply: generator is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Pool{
		db:      opts.DB,
		clk:     clk,
		gen:     opts.Generator,
		queue:   make(chan job, size),
		workers: workers,
	}, nil
}

// Start launches the workers. They drain the queue until ctx is
// cancelled, then exit; Wait blocks until all have stopped.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-p.queue:
					p.process(ctx, j)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// EnqueueReply queues a generation job. Returns false when the queue is
// full; the caller decides whether a dropped reply matters.
func (p *Pool) EnqueueReply(sessionID uint, trigger string) bool {
	select {
	case p.queue <- job{sessionID: sessionID, trigger: trigger}:
		return true
	default:
		return false
	}
}

// process runs one generation job end to end. The LLM call happens with
// no lock held; the result is re-validated against the session's current
// status before persisting, so a reply produced after a takeover or an
// end is discarded rather than sent.
func (p *Pool) process(ctx context.Context, j job) {
	s, err := session.Get(p.db, j.sessionID)
	if err != nil {
		p.logFailure(j.sessionID, 0, fmt.Sprintf("load session: %v", err))
		return
	}
	if s.Status != models.SessionActive {
		return
	}

	lead, err := directory.GetLead(p.db, s.LeadID)
	if err != nil {
		p.logFailure(s.ID, s.LeadID, fmt.Sprintf("load lead: %v", err))
		return
	}
	agent, err := directory.GetAgent(p.db, s.AgentID)
	if err != nil {
		p.logFailure(s.ID, s.LeadID, fmt.Sprintf("load agent: %v", err))
		return
	}

	var history []models.Message
	if err := p.db.Where("session_id = ?", s.ID).Order("created_at ASC").Find(&history).Error; err != nil {
		p.logFailure(s.ID, s.LeadID, fmt.Sprintf("load history: %v", err))
		return
	}

	draft, err := p.gen.Generate(ctx, Request{
		Session: s,
		Lead:    lead,
		Agent:   agent,
		History: history,
		Trigger: j.trigger,
	})
	if err != nil {
		p.logFailure(s.ID, s.LeadID, fmt.Sprintf("generate (%s): %v", j.trigger, err))
		draft = &Draft{Content: FallbackReply, Model: "fallback"}
	}
	if draft == nil {
		return // generator chose to skip
	}

	// Revalidation happens inside RecordMessage: the status guard in its
	// transaction rejects the write if the session left active/taken_over
	// while we were generating, and a taken-over session must not receive
	// an automated reply either, so re-check status explicitly.
	current, err := session.Get(p.db, s.ID)
	if err != nil || current.Status != models.SessionActive {
		return
	}
	if _, _, err := session.RecordMessage(p.db, p.clk, s.ID, models.SenderAgent, draft.Content, ""); err != nil {
		if err == session.ErrInvalidTransition || err == session.ErrNotFound {
			return // late cancellation; discard quietly
		}
		p.logFailure(s.ID, s.LeadID, fmt.Sprintf("persist reply: %v", err))
	}
}

// logFailure appends a reply_failure record. Generation failures must
// only ever append; they never touch session state.
func (p *Pool) logFailure(sessionID, leadID uint, detail string) {
	log.Printf("reply: session %d: %s", sessionID, detail)
	entry := models.EventLog{
		SessionID: sessionID,
		LeadID:    leadID,
		Kind:      models.LogReplyFailure,
		Detail:    detail,
		CreatedAt: p.clk.Now(),
	}
	if err := p.db.Create(&entry).Error; err != nil {
		log.Printf("reply: event log: %v", err)
	}
}
