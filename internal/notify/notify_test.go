package notify

import (
	"errors"
	"testing"

	slackapi "github.com/slack-go/slack"
)

func TestFanout_DeliversToAllSenders(t *testing.T) {
	a := &MockSender{}
	b := &MockSender{}
	f := NewFanout(a, b)

	f.Notify("escalation", "Session 7 escalated", "lead hit the cap")

	for i, m := range []*MockSender{a, b} {
		if len(m.Events) != 1 {
			t.Fatalf("sender %d events = %d, want 1", i, len(m.Events))
		}
		e := m.Events[0]
		if e.Kind != "escalation" || e.Title != "Session 7 escalated" {
			t.Errorf("sender %d event = %+v", i, e)
		}
	}
}

func TestFanout_SkipsNilSenders(t *testing.T) {
	m := &MockSender{}
	f := NewFanout(nil, m, nil)
	f.Notify("timeout", "Session 3 timed out", "")
	if len(m.Events) != 1 {
		t.Errorf("events = %d, want 1", len(m.Events))
	}
}

func TestFanout_FailureDoesNotStopOthers(t *testing.T) {
	failing := &MockSender{Err: errors.New("rate limited")}
	healthy := &MockSender{}
	f := NewFanout(failing, healthy)

	f.Notify("takeover", "Session 5 taken over", "owner stepped in")

	if len(healthy.Events) != 1 {
		t.Errorf("healthy sender events = %d, want 1 despite sibling failure", len(healthy.Events))
	}
}

// fakeSlack captures PostMessage calls.
type fakeSlack struct {
	channels []string
	err      error
}

func (f *fakeSlack) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	return "", "", f.err
}

func TestSlackSender_Send(t *testing.T) {
	fake := &fakeSlack{}
	s := &SlackSender{client: fake, channel: "C123"}

	err := s.Send(Event{Kind: "escalation", Title: "t", Detail: "d"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fake.channels) != 1 || fake.channels[0] != "C123" {
		t.Errorf("posted channels = %v, want [C123]", fake.channels)
	}
}

func TestSlackSender_SendError(t *testing.T) {
	fake := &fakeSlack{err: errors.New("channel_not_found")}
	s := &SlackSender{client: fake, channel: "C123"}
	if err := s.Send(Event{Kind: "timeout"}); err == nil {
		t.Fatal("expected error from failed post")
	}
}

func TestNewSlackSender_Validation(t *testing.T) {
	if _, err := NewSlackSender("", "C123"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewSlackSender("xoxb-token", ""); err == nil {
		t.Error("expected error for empty channel")
	}
}
