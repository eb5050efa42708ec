// Package reply generates agent messages. Generation runs detached from
// the inbound path on a bounded worker pool; a generation failure appends
// an error record and degrades to a fallback reply, never corrupting
// session state.
package reply

import (
	"context"

	"github.com/camdenward/leadline/internal/models"
)

// Generation triggers.
const (
	TriggerInitial  = "initial"   // opening message for a fresh session
	TriggerResponse = "response"  // reply to an inbound lead message
	TriggerFollowUp = "follow_up" // sequencer-driven nudge
)

// Request carries everything a generator may condition on.
type Request struct {
	Session *models.ConversationSession
	Lead    *models.Lead
	Agent   *models.Agent
	History []models.Message
	Trigger string
}

// Draft is a generated reply awaiting persistence.
type Draft struct {
	Content string
	Model   string
}

// Generator produces a reply draft. Returning (nil, nil) means skip: the
// generator saw a stale or ended session and declined without error.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Draft, error)
}

// Mock is a canned-response Generator for tests and local runs.
type Mock struct {
	Reply string
	Err   error
	Calls []Request
}

// Generate returns the canned reply, recording the request.
func (m *Mock) Generate(_ context.Context, req Request) (*Draft, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Reply == "" {
		return nil, nil
	}
	return &Draft{Content: m.Reply, Model: "mock"}, nil
}
