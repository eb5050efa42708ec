package sequencer

import (
	"fmt"
	"strings"

	"github.com/camdenward/leadline/internal/models"
)

// TemplateContext carries the records a nudge template can reference.
type TemplateContext struct {
	Lead    *models.Lead
	Agent   *models.Agent
	Session *models.ConversationSession
	Task    *models.FollowUpTask
}

// RenderTemplate substitutes {{placeholder}} tokens in a nudge template.
// Unknown tokens are left in place so a typo is visible in the output
// rather than silently dropped.
func RenderTemplate(tmpl string, ctx TemplateContext) string {
	pairs := []string{}
	if ctx.Lead != nil {
		name := ctx.Lead.Name
		if name == "" {
			name = "there"
		}
		pairs = append(pairs,
			"{{lead_name}}", name,
			"{{lead_source}}", ctx.Lead.Source,
		)
	}
	if ctx.Agent != nil {
		pairs = append(pairs,
			"{{agent_name}}", ctx.Agent.Name,
			"{{use_case}}", ctx.Agent.UseCase,
		)
	}
	if ctx.Session != nil {
		pairs = append(pairs, "{{goal}}", ctx.Session.Goal)
	}
	if ctx.Task != nil {
		pairs = append(pairs,
			"{{step}}", fmt.Sprintf("%d", ctx.Task.Position),
			"{{total_steps}}", fmt.Sprintf("%d", ctx.Task.TotalSteps),
		)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
