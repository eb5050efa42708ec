package reply

import (
	"context"
	"fmt"

	"github.com/camdenward/leadline/internal/models"
	"github.com/sashabaranov/go-openai"
)

// historyLimit caps how much conversation history is sent per request.
const historyLimit = 20

// OpenAIGenerator produces replies with the OpenAI chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates an OpenAI-backed Generator.
func NewOpenAIGenerator(apiKey, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reply: openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Generate renders a prompt from the session context and requests a
// completion. A session that already ended yields a skip, not an error.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Draft, error) {
	if req.Session == nil || !req.Session.Open() {
		return nil, nil
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt(req),
		},
	}

	history := req.History
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.SenderType == models.SenderAgent {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: 300,
	})
	if err != nil {
		return nil, fmt.Errorf("reply: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("reply: openai returned no choices")
	}
	return &Draft{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}, nil
}

// systemPrompt builds the instruction block for one generation.
func systemPrompt(req Request) string {
	name := "the business"
	useCase := "general inquiries"
	if req.Agent != nil {
		name = req.Agent.Name
		useCase = req.Agent.UseCase
	}
	goal := ""
	if req.Session != nil {
		goal = req.Session.Goal
	}
	leadName := ""
	if req.Lead != nil {
		leadName = req.Lead.Name
	}

	p := fmt.Sprintf("You are %s, an assistant handling %s conversations over text message. Keep replies short, friendly, and concrete.", name, useCase)
	if goal != "" {
		p += fmt.Sprintf(" The goal of this conversation is: %s.", goal)
	}
	if leadName != "" {
		p += fmt.Sprintf(" You are talking to %s.", leadName)
	}
	switch req.Trigger {
	case TriggerInitial:
		p += " Open the conversation with a brief greeting that invites a reply."
	case TriggerFollowUp:
		p += " The lead has gone quiet; send one gentle nudge without pressure."
	}
	return p
}
