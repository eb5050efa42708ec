package session

import (
	"testing"
	"time"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.ConversationSession{}, &models.Message{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testClock() *clock.Fixed {
	return &clock.Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func mustCreate(t *testing.T, db *gorm.DB, clk clock.Clock, leadID uint) *models.ConversationSession {
	t.Helper()
	s, err := Create(db, clk, CreateOpts{
		AgentID:         1,
		LeadID:          leadID,
		TriggerType:     "new_lead",
		Goal:            "book_appointment",
		TimeoutHours:    24,
		MaxMessageCount: 100,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreate_Success(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()

	s := mustCreate(t, db, clk, 7)
	if s.ID == 0 {
		t.Fatal("expected session ID to be set")
	}
	if s.Status != models.SessionActive {
		t.Errorf("Status = %q, want %q", s.Status, models.SessionActive)
	}
	if s.SequenceStates != "{}" {
		t.Errorf("SequenceStates = %q, want %q", s.SequenceStates, "{}")
	}
	if !s.LastMessageAt.Equal(clk.T) {
		t.Errorf("LastMessageAt = %v, want %v", s.LastMessageAt, clk.T)
	}
}

func TestCreate_MissingAgent(t *testing.T) {
	db := openTestDB(t)
	_, err := Create(db, testClock(), CreateOpts{LeadID: 1})
	if err == nil {
		t.Fatal("expected error for missing agentID")
	}
}

func TestCreate_LeadAlreadyOwned(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	mustCreate(t, db, clk, 7)

	_, err := Create(db, clk, CreateOpts{AgentID: 2, LeadID: 7})
	if err != ErrLeadOwned {
		t.Fatalf("err = %v, want ErrLeadOwned", err)
	}

	// Still at most one open session for the lead.
	var n int64
	db.Model(&models.ConversationSession{}).
		Where("lead_id = ? AND status IN ?", 7, openStatuses).
		Count(&n)
	if n != 1 {
		t.Errorf("open sessions = %d, want 1", n)
	}
}

func TestCreate_TakenOverStillOwns(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	if err := Takeover(db, clk, s.ID, "owner", "vip lead"); err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	if _, err := Create(db, clk, CreateOpts{AgentID: 2, LeadID: 7}); err != ErrLeadOwned {
		t.Fatalf("err = %v, want ErrLeadOwned", err)
	}
}

func TestCreate_EndedSessionFreesLead(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	if err := End(db, clk, s.ID, "completed", ""); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := Create(db, clk, CreateOpts{AgentID: 2, LeadID: 7}); err != nil {
		t.Fatalf("Create after end: %v", err)
	}
}

func TestRecordMessage_Counters(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	clk.Advance(5 * time.Minute)
	updated, msg, err := RecordMessage(db, clk, s.ID, models.SenderLead, "hi there", "ext-1")
	if err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	if updated.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", updated.MessageCount)
	}
	if updated.LastMessageFrom != models.SenderLead {
		t.Errorf("LastMessageFrom = %q, want %q", updated.LastMessageFrom, models.SenderLead)
	}
	if !updated.LastMessageAt.Equal(clk.T) {
		t.Errorf("LastMessageAt = %v, want %v", updated.LastMessageAt, clk.T)
	}
	if msg.ExternalID != "ext-1" {
		t.Errorf("ExternalID = %q, want %q", msg.ExternalID, "ext-1")
	}

	clk.Advance(time.Minute)
	updated, _, err = RecordMessage(db, clk, s.ID, models.SenderAgent, "hello!", "")
	if err != nil {
		t.Fatalf("RecordMessage agent: %v", err)
	}
	if updated.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", updated.MessageCount)
	}
	if updated.LastMessageFrom != models.SenderAgent {
		t.Errorf("LastMessageFrom = %q, want %q", updated.LastMessageFrom, models.SenderAgent)
	}
}

func TestRecordMessage_EndedSession(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)
	if err := End(db, clk, s.ID, "completed", ""); err != nil {
		t.Fatalf("End: %v", err)
	}

	_, _, err := RecordMessage(db, clk, s.ID, models.SenderLead, "anyone?", "")
	if err != ErrInvalidTransition {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	// The message must not have been persisted.
	var n int64
	db.Model(&models.Message{}).Where("session_id = ?", s.ID).Count(&n)
	if n != 0 {
		t.Errorf("messages = %d, want 0 after rollback", n)
	}
}

func TestRecordMessage_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, _, err := RecordMessage(db, testClock(), 999, models.SenderLead, "x", "")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestShouldEscalate_Boundary(t *testing.T) {
	tests := []struct {
		name   string
		status string
		count  int
		max    int
		want   bool
	}{
		{"one below cap", models.SessionActive, 99, 100, false},
		{"at cap", models.SessionActive, 100, 100, true},
		{"over cap", models.SessionActive, 101, 100, true},
		{"taken over never escalates", models.SessionTakenOver, 100, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.ConversationSession{
				Status:          tt.status,
				MessageCount:    tt.count,
				MaxMessageCount: tt.max,
			}
			if got := ShouldEscalate(s); got != tt.want {
				t.Errorf("ShouldEscalate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTimeoutEligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		idle time.Duration
		want bool
	}{
		{"one hour inside the window", 23 * time.Hour, false},
		{"one hour past the window", 25 * time.Hour, true},
		{"exactly at the window", 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.ConversationSession{
				Status:        models.SessionActive,
				TimeoutHours:  24,
				LastMessageAt: now.Add(-tt.idle),
			}
			if got := IsTimeoutEligible(s, now); got != tt.want {
				t.Errorf("IsTimeoutEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTimeoutEligible_NotActive(t *testing.T) {
	now := time.Now()
	s := &models.ConversationSession{
		Status:        models.SessionTakenOver,
		TimeoutHours:  1,
		LastMessageAt: now.Add(-48 * time.Hour),
	}
	if IsTimeoutEligible(s, now) {
		t.Error("taken-over session must not timeout")
	}
}

func TestTakeoverReleaseCycle(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	if err := Takeover(db, clk, s.ID, "owner", "manual review"); err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	got, _ := Get(db, s.ID)
	if got.Status != models.SessionTakenOver {
		t.Fatalf("Status = %q, want taken_over", got.Status)
	}
	if got.EscalatedTo != "owner" {
		t.Errorf("EscalatedTo = %q, want %q", got.EscalatedTo, "owner")
	}

	// Double takeover is rejected, not ignored.
	if err := Takeover(db, clk, s.ID, "owner", "again"); err != ErrInvalidTransition {
		t.Fatalf("second takeover err = %v, want ErrInvalidTransition", err)
	}

	if err := Release(db, clk, s.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, _ = Get(db, s.ID)
	if got.Status != models.SessionActive {
		t.Fatalf("Status after release = %q, want active", got.Status)
	}

	// Releasing an active session is illegal.
	if err := Release(db, clk, s.ID); err != ErrInvalidTransition {
		t.Fatalf("second release err = %v, want ErrInvalidTransition", err)
	}
}

func TestEnd_AlreadyEnded(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	if err := End(db, clk, s.ID, "completed", ""); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := End(db, clk, s.ID, "completed", ""); err != ErrInvalidTransition {
		t.Fatalf("second end err = %v, want ErrInvalidTransition", err)
	}
}

func TestEnd_SetsEndedAt(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	clk.Advance(2 * time.Hour)
	if err := End(db, clk, s.ID, "escalated_to_owner", "frontdesk"); err != nil {
		t.Fatalf("End: %v", err)
	}
	got, _ := Get(db, s.ID)
	if got.EndedAt == nil || !got.EndedAt.Equal(clk.T) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, clk.T)
	}
	if got.EndReason != "escalated_to_owner" {
		t.Errorf("EndReason = %q", got.EndReason)
	}
	if got.EscalatedTo != "frontdesk" {
		t.Errorf("EscalatedTo = %q", got.EscalatedTo)
	}
}

func TestTransitions_NotFound(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()

	if err := End(db, clk, 999, "x", ""); err != ErrNotFound {
		t.Errorf("End err = %v, want ErrNotFound", err)
	}
	if err := Takeover(db, clk, 999, "a", "b"); err != ErrNotFound {
		t.Errorf("Takeover err = %v, want ErrNotFound", err)
	}
	if err := Release(db, clk, 999); err != ErrNotFound {
		t.Errorf("Release err = %v, want ErrNotFound", err)
	}
}

func TestSequenceStates_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	clk := testClock()
	s := mustCreate(t, db, clk, 7)

	err := SetSequenceState(db, s.ID, "no_response", SequenceState{
		Active:     true,
		TotalSteps: 3,
	})
	if err != nil {
		t.Fatalf("SetSequenceState: %v", err)
	}
	err = SetSequenceState(db, s.ID, "no_response", SequenceState{
		Active:      true,
		CurrentStep: 2,
		TotalSteps:  3,
	})
	if err != nil {
		t.Fatalf("SetSequenceState update: %v", err)
	}

	got, _ := Get(db, s.ID)
	states, err := SequenceStates(got)
	if err != nil {
		t.Fatalf("SequenceStates: %v", err)
	}
	st, ok := states["no_response"]
	if !ok {
		t.Fatal("no_response state missing")
	}
	if st.CurrentStep != 2 || st.TotalSteps != 3 || !st.Active {
		t.Errorf("state = %+v", st)
	}
}
