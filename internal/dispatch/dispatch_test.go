package dispatch

import (
	"testing"
	"time"

	"github.com/camdenward/leadline/internal/clock"
	"github.com/camdenward/leadline/internal/models"
	"github.com/camdenward/leadline/internal/sequencer"
	"github.com/camdenward/leadline/internal/session"
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
	err = db.AutoMigrate(
		&models.Agent{}, &models.TriggerRule{}, &models.SequenceStep{},
		&models.Lead{}, &models.ConversationSession{}, &models.FollowUpTask{},
		&models.Message{}, &models.EventLog{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testClock() *clock.Fixed {
	return &clock.Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

type fakeResponder struct {
	triggers []string
}

func (f *fakeResponder) EnqueueReply(sessionID uint, trigger string) bool {
	f.triggers = append(f.triggers, trigger)
	return true
}

type fixture struct {
	db        *gorm.DB
	clk       *clock.Fixed
	disp      *Dispatcher
	responder *fakeResponder
	lead      models.Lead
	booker    models.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	clk := testClock()

	booker := models.Agent{Name: "booker", UseCase: "scheduling", DefaultGoal: "book_appointment", MaxMessageCount: 100, TimeoutHours: 24, Active: true}
	if err := db.Create(&booker).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	for _, kind := range []string{"new_lead", "appointment_scheduled"} {
		rule := models.TriggerRule{AgentID: booker.ID, EventKind: kind}
		if err := db.Create(&rule).Error; err != nil {
			t.Fatalf("seed rule: %v", err)
		}
	}
	steps := []models.SequenceStep{
		{AgentID: booker.ID, EventKind: "no_response", Position: 1, Delay: 5, DelayUnit: "minutes", DelayMinutes: 5, Template: "Still there, {{lead_name}}?"},
		{AgentID: booker.ID, EventKind: "appointment_reminder", Position: 1, Delay: -1, DelayUnit: "days", DelayMinutes: -1440, Template: "See you tomorrow, {{lead_name}}"},
		{AgentID: booker.ID, EventKind: "appointment_reminder", Position: 2, Delay: -1, DelayUnit: "hours", DelayMinutes: -60, Template: "See you in an hour"},
	}
	for i := range steps {
		if err := db.Create(&steps[i]).Error; err != nil {
			t.Fatalf("seed step: %v", err)
		}
	}

	lead := models.Lead{Name: "Dana", Phone: "+15550001", Email: "dana@example.com", Source: "webform"}
	if err := db.Create(&lead).Error; err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	seq, err := sequencer.New(sequencer.Opts{DB: db, Clock: clk})
	if err != nil {
		t.Fatalf("sequencer.New: %v", err)
	}
	responder := &fakeResponder{}
	disp, err := New(Opts{DB: db, Clock: clk, Sequencer: seq, Responder: responder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{db: db, clk: clk, disp: disp, responder: responder, lead: lead, booker: booker}
}

func TestDispatch_NewLeadOpensSession(t *testing.T) {
	f := newFixture(t)

	created, err := f.disp.Dispatch("new_lead", map[string]string{"phone": "+15550001"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d sessions, want 1", len(created))
	}

	s, err := session.Get(f.db, created[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.LeadID != f.lead.ID {
		t.Errorf("LeadID = %d, want %d", s.LeadID, f.lead.ID)
	}
	if s.AgentID != f.booker.ID {
		t.Errorf("AgentID = %d, want %d", s.AgentID, f.booker.ID)
	}
	if s.TriggerType != "new_lead" {
		t.Errorf("TriggerType = %q, want new_lead", s.TriggerType)
	}
	if s.Goal != "book_appointment" {
		t.Errorf("Goal = %q, want the agent default", s.Goal)
	}

	// The inactivity nudge is armed immediately.
	var task models.FollowUpTask
	if err := f.db.Where("session_id = ?", s.ID).First(&task).Error; err != nil {
		t.Fatalf("find task: %v", err)
	}
	wantAt := f.clk.T.Add(5 * time.Minute)
	if !task.ScheduledAt.Equal(wantAt) {
		t.Errorf("ScheduledAt = %v, want %v", task.ScheduledAt, wantAt)
	}

	if len(f.responder.triggers) != 1 || f.responder.triggers[0] != "initial" {
		t.Errorf("responder triggers = %v, want [initial]", f.responder.triggers)
	}
}

func TestDispatch_UnknownEventRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.disp.Dispatch("lead_abducted", map[string]string{"phone": "+15550001"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestDispatch_OwnedLeadSkipped(t *testing.T) {
	f := newFixture(t)

	first, err := f.disp.Dispatch("new_lead", map[string]string{"lead_id": "1"})
	if err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first created = %d, want 1", len(first))
	}

	// Same lead again: the open session blocks creation, the event is a
	// logged skip instead of an error.
	second, err := f.disp.Dispatch("new_lead", map[string]string{"lead_id": "1"})
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second created = %d, want 0", len(second))
	}

	var skips int64
	f.db.Model(&models.EventLog{}).Where("kind = ?", models.LogDispatchSkip).Count(&skips)
	if skips != 1 {
		t.Errorf("dispatch skip log rows = %d, want 1", skips)
	}
}

func TestDispatch_CreatesUnknownLead(t *testing.T) {
	f := newFixture(t)

	created, err := f.disp.Dispatch("new_lead", map[string]string{
		"phone": "+15559999", "name": "Robin", "source": "yelp",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}

	var lead models.Lead
	if err := f.db.Where("phone = ?", "+15559999").First(&lead).Error; err != nil {
		t.Fatalf("find lead: %v", err)
	}
	if lead.Name != "Robin" || lead.Source != "yelp" {
		t.Errorf("lead = %+v, want Robin from yelp", lead)
	}
}

func TestDispatch_MatchesExistingLeadByEmail(t *testing.T) {
	f := newFixture(t)

	created, err := f.disp.Dispatch("new_lead", map[string]string{"email": "dana@example.com"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	s, _ := session.Get(f.db, created[0])
	if s.LeadID != f.lead.ID {
		t.Errorf("LeadID = %d, want existing lead %d", s.LeadID, f.lead.ID)
	}
	var leads int64
	f.db.Model(&models.Lead{}).Count(&leads)
	if leads != 1 {
		t.Errorf("leads = %d, want 1 (no duplicate created)", leads)
	}
}

func TestDispatch_NoLeadIdentity(t *testing.T) {
	f := newFixture(t)
	if _, err := f.disp.Dispatch("new_lead", map[string]string{"name": "Ghost"}); err == nil {
		t.Fatal("expected error when event has no lead_id, phone, or email")
	}
}

func TestDispatch_AppointmentAnchorsReminders(t *testing.T) {
	f := newFixture(t)

	appt := f.clk.T.Add(48 * time.Hour)
	created, err := f.disp.Dispatch("appointment_scheduled", map[string]string{
		"lead_id":        "1",
		"appointment_at": appt.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}

	var reminders []models.FollowUpTask
	f.db.Where("session_id = ? AND trigger_event = ?", created[0], "appointment_reminder").
		Order("position ASC").Find(&reminders)
	if len(reminders) != 2 {
		t.Fatalf("reminders = %d, want 2", len(reminders))
	}
	// Negative delays land before the appointment.
	if want := appt.Add(-24 * time.Hour); !reminders[0].ScheduledAt.Equal(want) {
		t.Errorf("reminders[0].ScheduledAt = %v, want %v", reminders[0].ScheduledAt, want)
	}
	if want := appt.Add(-time.Hour); !reminders[1].ScheduledAt.Equal(want) {
		t.Errorf("reminders[1].ScheduledAt = %v, want %v", reminders[1].ScheduledAt, want)
	}
}

func TestDispatch_TriggerConditionFilters(t *testing.T) {
	f := newFixture(t)

	// An agent whose new_lead rule only matches yelp events.
	picky := models.Agent{Name: "picky", UseCase: "sales", DefaultGoal: "qualify_lead", MaxMessageCount: 100, TimeoutHours: 24, Active: true}
	if err := f.db.Create(&picky).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	rule := models.TriggerRule{AgentID: picky.ID, EventKind: "new_lead", Condition: "source=yelp"}
	if err := f.db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	// Deactivate the default agent so only the condition decides.
	f.db.Model(&models.Agent{}).Where("id = ?", f.booker.ID).Update("active", false)

	created, err := f.disp.Dispatch("new_lead", map[string]string{"lead_id": "1", "source": "webform"})
	if err != nil {
		t.Fatalf("Dispatch webform: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("webform created = %d, want 0", len(created))
	}

	created, err = f.disp.Dispatch("new_lead", map[string]string{"lead_id": "1", "source": "yelp"})
	if err != nil {
		t.Fatalf("Dispatch yelp: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("yelp created = %d, want 1", len(created))
	}
}
