package router

import "strings"

// goalBucket pairs trigger keywords with the session goal they imply.
// Buckets are checked in order; the first hit wins.
type goalBucket struct {
	goal     string
	keywords []string
}

var goalBuckets = []goalBucket{
	{"discuss_pricing", []string{"price", "pricing", "cost", "quote", "how much", "estimate", "rate"}},
	{"book_appointment", []string{"appointment", "schedule", "book", "booking", "availability", "available", "reschedule"}},
	{"resolve_support_issue", []string{"help", "issue", "problem", "broken", "not working", "complaint", "refund", "cancel"}},
	{"share_information", []string{"info", "information", "question", "details", "learn", "hours", "location", "tell me"}},
}

// DeriveGoal inspects the first inbound message and returns a session
// goal. Messages matching no bucket get the agent's per-use-case default.
func DeriveGoal(content, fallback string) string {
	lower := strings.ToLower(content)
	for _, b := range goalBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.goal
			}
		}
	}
	return fallback
}
