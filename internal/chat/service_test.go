package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/devhq/devy/internal/assessment"
	"github.com/devhq/devy/internal/careers"
	"github.com/devhq/devy/internal/gateway"
	"github.com/devhq/devy/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeAdviser replies with a fixed outcome and records the call.
type fakeAdviser struct {
	outcome    gateway.Outcome
	gotMessage string
	gotProfile map[string]string
	gotHistory []storage.ChatMessage
	gotExclude int64
	calls      int
}

func (f *fakeAdviser) Converse(_ context.Context, userMessage string, profile map[string]string, history []storage.ChatMessage, excludeID int64) gateway.Outcome {
	f.calls++
	f.gotMessage = userMessage
	f.gotProfile = profile
	f.gotHistory = history
	f.gotExclude = excludeID
	return f.outcome
}

func testAssessment(name string) *assessment.Payload {
	recs := make([]assessment.Recommendation, 0, careers.Count())
	for i, career := range careers.Paths {
		recs = append(recs, assessment.Recommendation{
			CareerName:         career,
			MatchScore:         95 - i*10,
			Reasoning:          "fits",
			SuggestedNextSteps: []string{"practice"},
		})
	}
	age := "21"
	subjects := []string{"math", "physics"}
	return &assessment.Payload{
		UserSummary:     assessment.UserSummary{Name: name, Age: &age, TopSubjects: subjects},
		Recommendations: recs,
		OverallNotes:    "promising",
	}
}

func TestProcessMessageConversationalTurn(t *testing.T) {
	store := openTestStore(t)
	adviser := &fakeAdviser{outcome: gateway.Outcome{Reply: "Tell me your name!"}}
	svc := NewService(store, adviser)
	ctx := context.Background()

	token := uuid.New().String()
	out, err := svc.ProcessMessage(ctx, token, "Hi, I'm Alex")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if out.Reply != "Tell me your name!" || out.AssessmentComplete || out.Assessment != nil {
		t.Errorf("unexpected output: %+v", out)
	}
	if out.SessionID != token {
		t.Errorf("session id = %q, want %q", out.SessionID, token)
	}

	msgs, err := store.SessionMessages(ctx, token)
	if err != nil {
		t.Fatalf("SessionMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + assistant", len(msgs))
	}
	if msgs[0].Sender != storage.SenderUser || msgs[0].Content != "Hi, I'm Alex" {
		t.Errorf("user message wrong: %+v", msgs[0])
	}
	if msgs[1].Sender != storage.SenderAssistant || msgs[1].Content != "Tell me your name!" {
		t.Errorf("assistant message wrong: %+v", msgs[1])
	}

	if a, _ := svc.ExistingAssessment(ctx, token); a != nil {
		t.Error("assessment recorded on conversational turn")
	}

	// The just-stored user message is excluded from replay by identifier.
	if adviser.gotExclude != msgs[0].ID {
		t.Errorf("exclude id = %d, want %d", adviser.gotExclude, msgs[0].ID)
	}
}

func TestProcessMessageSanitizesBeforeStorage(t *testing.T) {
	store := openTestStore(t)
	adviser := &fakeAdviser{outcome: gateway.Outcome{Reply: "ok"}}
	svc := NewService(store, adviser)
	ctx := context.Background()

	token := uuid.New().String()
	if _, err := svc.ProcessMessage(ctx, token, "  a   b  <script>x</script> "); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	msgs, _ := store.SessionMessages(ctx, token)
	if msgs[0].Content != "a b" {
		t.Errorf("stored content = %q, want sanitized", msgs[0].Content)
	}
	if adviser.gotMessage != "a b" {
		t.Errorf("gateway received %q, want sanitized text", adviser.gotMessage)
	}
}

func TestProcessMessageCompletedAssessment(t *testing.T) {
	store := openTestStore(t)
	adviser := &fakeAdviser{outcome: gateway.Outcome{
		Reply:      gateway.Acknowledgement,
		Completed:  true,
		Assessment: testAssessment("Alex"),
	}}
	svc := NewService(store, adviser)
	ctx := context.Background()

	token := uuid.New().String()
	out, err := svc.ProcessMessage(ctx, token, "I think that's everything about me")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !out.AssessmentComplete || out.Assessment == nil {
		t.Fatalf("assessment not reported: %+v", out)
	}
	if len(out.Assessment.Recommendations) != careers.Count() {
		t.Errorf("got %d recommendations", len(out.Assessment.Recommendations))
	}

	user, err := store.GetUserByName(ctx, "Alex")
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Age == nil || *user.Age != 21 {
		t.Errorf("age not parsed: %+v", user.Age)
	}

	var subjects []string
	if err := json.Unmarshal([]byte(user.TopSubjects), &subjects); err != nil || len(subjects) != 2 {
		t.Errorf("top subjects = %q", user.TopSubjects)
	}

	sess, err := store.GetSession(ctx, token)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.UserID == nil || *sess.UserID != user.ID {
		t.Errorf("session not linked to user: %+v", sess.UserID)
	}

	sctx, err := sess.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if sctx.UserProfile["name"] != "Alex" {
		t.Errorf("profile name not backfilled: %#v", sctx.UserProfile)
	}

	a, err := svc.ExistingAssessment(ctx, token)
	if err != nil || a == nil {
		t.Fatalf("assessment missing: %v", err)
	}
	if a.UserID != user.ID {
		t.Errorf("assessment user = %d, want %d", a.UserID, user.ID)
	}
}

func TestProcessMessageAssessmentOverwritesUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := testAssessment("Alex")
	svc := NewService(store, &fakeAdviser{outcome: gateway.Outcome{Reply: gateway.Acknowledgement, Completed: true, Assessment: first}})
	if _, err := svc.ProcessMessage(ctx, uuid.New().String(), "done"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	second := testAssessment("Alex")
	vague := "around thirty"
	second.UserSummary.Age = &vague
	level := "Master's"
	second.UserSummary.EducationLevel = &level
	svc2 := NewService(store, &fakeAdviser{outcome: gateway.Outcome{Reply: gateway.Acknowledgement, Completed: true, Assessment: second}})
	if _, err := svc2.ProcessMessage(ctx, uuid.New().String(), "done again"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	user, err := store.GetUserByName(ctx, "Alex")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if user.Age != nil {
		t.Errorf("non-digit age should null the field, got %v", *user.Age)
	}
	if user.EducationLevel != "Master's" {
		t.Errorf("education = %q, want overwrite", user.EducationLevel)
	}
}

func TestProcessMessageEmptyNameSkipsPersistence(t *testing.T) {
	store := openTestStore(t)
	payload := testAssessment("  ")
	adviser := &fakeAdviser{outcome: gateway.Outcome{Reply: gateway.Acknowledgement, Completed: true, Assessment: payload}}
	svc := NewService(store, adviser)
	ctx := context.Background()

	token := uuid.New().String()
	out, err := svc.ProcessMessage(ctx, token, "done")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	// The turn still succeeds and the reply is stored.
	if !out.AssessmentComplete {
		t.Error("completion flag lost")
	}
	if a, _ := svc.ExistingAssessment(ctx, token); a != nil {
		t.Error("assessment persisted despite empty name")
	}
	msgs, _ := store.SessionMessages(ctx, token)
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestProcessMessageAIUnavailable(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	token := uuid.New().String()
	out, err := svc.ProcessMessage(ctx, token, "Hello?")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if out.Reply != AIUnavailableReply || out.AssessmentComplete {
		t.Errorf("unexpected output: %+v", out)
	}

	// The apology is persisted so history stays consistent.
	msgs, _ := store.SessionMessages(ctx, token)
	if len(msgs) != 2 || msgs[1].Content != AIUnavailableReply {
		t.Errorf("apology not stored: %+v", msgs)
	}
}

// TestProcessMessageRollback forces a persistence failure mid-turn (the
// session already has an assessment, so the UNIQUE constraint fires) and
// verifies the user message staged earlier in the turn is rolled back too.
func TestProcessMessageRollback(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token := uuid.New().String()
	if err := store.CreateSession(ctx, token, storage.EmptyContext()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	u := storage.User{Name: "Alex"}
	if err := store.CreateUser(ctx, &u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.SaveAssessment(ctx, storage.Assessment{SessionID: token, UserID: u.ID, Payload: "{}"}); err != nil {
		t.Fatalf("SaveAssessment: %v", err)
	}

	adviser := &fakeAdviser{outcome: gateway.Outcome{Reply: gateway.Acknowledgement, Completed: true, Assessment: testAssessment("Alex")}}
	svc := NewService(store, adviser)

	if _, err := svc.ProcessMessage(ctx, token, "one more assessment please"); err == nil {
		t.Fatal("expected orchestration failure")
	}

	msgs, err := store.SessionMessages(ctx, token)
	if err != nil {
		t.Fatalf("SessionMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("rollback left %d messages for the failed turn", len(msgs))
	}
}

func TestEnsureSessionIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token := uuid.New().String()
	if err := store.CreateSession(ctx, token, storage.EmptyContext()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	want := storage.EmptyContext()
	want.UserProfile["name"] = "Sam"
	if err := store.SaveSessionContext(ctx, token, want); err != nil {
		t.Fatalf("SaveSessionContext: %v", err)
	}

	for i := 0; i < 2; i++ {
		err := store.WithTx(ctx, func(tx *storage.Tx) error {
			sctx, err := ensureSession(ctx, tx, token)
			if err != nil {
				return err
			}
			if sctx.UserProfile["name"] != "Sam" {
				t.Errorf("pass %d: well-formed context modified: %#v", i, sctx.UserProfile)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
}

func TestNewSession(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	token, err := svc.NewSession(ctx)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := uuid.Parse(token); err != nil {
		t.Errorf("token %q is not a UUID: %v", token, err)
	}

	sess, err := store.GetSession(ctx, token)
	if err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	sctx, err := sess.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(sctx.UserProfile) != 0 {
		t.Errorf("new session profile not empty: %#v", sctx.UserProfile)
	}
}
