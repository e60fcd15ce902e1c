// Package chat orchestrates one conversation turn: session resolution,
// message persistence, the AI gateway call, assessment recording, and
// response assembly, all inside a single storage transaction.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/devhq/devy/internal/assessment"
	"github.com/devhq/devy/internal/gateway"
	"github.com/devhq/devy/internal/storage"
	"github.com/devhq/devy/internal/validation"
)

// AIUnavailableReply is returned for every turn when no gateway is
// configured. No network call is attempted.
const AIUnavailableReply = "I'm having trouble connecting to my AI brain right now. Please try again in a moment."

// historyLimit bounds the recent history replayed into the gateway.
const historyLimit = 10

// Adviser is the gateway call the orchestrator depends on. Implemented by
// *gateway.Gateway.
type Adviser interface {
	Converse(ctx context.Context, userMessage string, profile map[string]string, history []storage.ChatMessage, excludeID int64) gateway.Outcome
}

// Service coordinates validation, history, the AI gateway, and persistence
// for the chat surface.
type Service struct {
	store   *storage.Store
	adviser Adviser // nil disables AI; turns answer with AIUnavailableReply
}

// NewService creates the orchestrator. Pass a nil adviser when the AI
// configuration is incomplete.
func NewService(store *storage.Store, adviser Adviser) *Service {
	return &Service{store: store, adviser: adviser}
}

// Output is the result of one processed turn.
type Output struct {
	Reply              string
	SessionID          string
	AssessmentComplete bool
	Assessment         *assessment.Payload
}

// ProcessMessage runs a full chat turn for the given session token inside
// one transaction. On any failure the whole turn rolls back and a single
// orchestration error is returned; no partial writes survive.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, userMessage string) (Output, error) {
	var out Output

	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		sctx, err := ensureSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		sanitized := validation.Sanitize(userMessage, 0)
		userMsgID, err := tx.InsertMessage(ctx, storage.ChatMessage{
			SessionID: sessionID,
			Sender:    storage.SenderUser,
			Content:   sanitized,
		})
		if err != nil {
			return fmt.Errorf("storing user message: %w", err)
		}

		history, err := tx.RecentMessages(ctx, sessionID, historyLimit)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}

		var outcome gateway.Outcome
		if s.adviser == nil {
			outcome = gateway.Outcome{Reply: AIUnavailableReply}
		} else {
			outcome = s.adviser.Converse(ctx, sanitized, sctx.UserProfile, history, userMsgID)
		}

		if outcome.Completed && outcome.Assessment != nil {
			if err := s.recordAssessment(ctx, tx, sessionID, &sctx, outcome.Assessment); err != nil {
				return err
			}
		}

		if _, err := tx.InsertMessage(ctx, storage.ChatMessage{
			SessionID: sessionID,
			Sender:    storage.SenderAssistant,
			Content:   outcome.Reply,
		}); err != nil {
			return fmt.Errorf("storing assistant message: %w", err)
		}

		out = Output{
			Reply:              outcome.Reply,
			SessionID:          sessionID,
			AssessmentComplete: outcome.Completed,
			Assessment:         outcome.Assessment,
		}
		return nil
	})
	if err != nil {
		return Output{}, fmt.Errorf("processing message for session %s: %w", sessionID, err)
	}

	slog.Info("processed chat turn", "session", sessionID, "assessment_complete", out.AssessmentComplete)
	return out, nil
}

// ensureSession resolves the session, creating it with an empty profile
// context when absent and repairing a missing or malformed profile context
// when present. Idempotent: a well-formed session passes through untouched.
func ensureSession(ctx context.Context, tx *storage.Tx, sessionID string) (storage.SessionContext, error) {
	sess, err := tx.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.Info("creating session", "session", sessionID)
		empty := storage.EmptyContext()
		if err := tx.CreateSession(ctx, sessionID, empty); err != nil {
			return storage.SessionContext{}, fmt.Errorf("creating session: %w", err)
		}
		return empty, nil
	}
	if err != nil {
		return storage.SessionContext{}, fmt.Errorf("resolving session: %w", err)
	}

	sctx, err := sess.Context()
	if err != nil || sctx.UserProfile == nil {
		slog.Info("repairing session context", "session", sessionID)
		empty := storage.EmptyContext()
		if err := tx.SaveSessionContext(ctx, sessionID, empty); err != nil {
			return storage.SessionContext{}, fmt.Errorf("repairing session context: %w", err)
		}
		return empty, nil
	}
	return sctx, nil
}

// recordAssessment resolves or creates the named user, overwrites their
// profile from the assessment, links the session, persists the assessment
// payload, and backfills the session's profile name.
func (s *Service) recordAssessment(ctx context.Context, tx *storage.Tx, sessionID string, sctx *storage.SessionContext, payload *assessment.Payload) error {
	name := strings.TrimSpace(payload.UserSummary.Name)
	if name == "" {
		slog.Warn("assessment has no user name, skipping user and assessment persistence", "session", sessionID)
		return nil
	}

	user, err := tx.GetUserByName(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		slog.Info("creating user from assessment", "name", name)
		user = storage.User{Name: name}
		applySummary(&user, payload.UserSummary)
		if err := tx.CreateUser(ctx, &user); err != nil {
			return fmt.Errorf("creating user %q: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("looking up user %q: %w", name, err)
	default:
		slog.Info("updating user from assessment", "name", name, "user_id", user.ID)
		applySummary(&user, payload.UserSummary)
		if err := tx.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("updating user %q: %w", name, err)
		}
	}

	if err := tx.LinkSessionUser(ctx, sessionID, user.ID); err != nil {
		return fmt.Errorf("linking session to user: %w", err)
	}

	// Defense in depth: the gateway already validated the shape, but the
	// payload is persisted regardless, with problems logged rather than
	// rejected.
	if errs := payload.Validate(); len(errs) > 0 {
		slog.Warn("assessment failed shape re-validation", "session", sessionID, "errors", strings.Join(errs, "; "))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding assessment payload: %w", err)
	}
	if _, err := tx.SaveAssessment(ctx, storage.Assessment{
		SessionID: sessionID,
		UserID:    user.ID,
		Payload:   string(raw),
	}); err != nil {
		return fmt.Errorf("saving assessment: %w", err)
	}

	if sctx.UserProfile["name"] == "" {
		sctx.UserProfile["name"] = user.Name
		if err := tx.SaveSessionContext(ctx, sessionID, *sctx); err != nil {
			return fmt.Errorf("backfilling session profile: %w", err)
		}
	}

	return nil
}

// applySummary overwrites the user's profile fields from the assessment's
// user summary. Age is kept only when the model supplied pure digits.
func applySummary(user *storage.User, summary assessment.UserSummary) {
	user.Age = nil
	if summary.Age != nil && isDigits(*summary.Age) {
		if n, err := strconv.ParseInt(*summary.Age, 10, 64); err == nil {
			user.Age = &n
		}
	}
	user.EducationLevel = deref(summary.EducationLevel)
	user.TechnicalKnowledge = deref(summary.TechnicalKnowledge)
	user.SubjectAspects = deref(summary.SubjectAspects)
	user.InterestsDreams = deref(summary.InterestsDreams)

	subjects := summary.TopSubjects
	if subjects == nil {
		subjects = []string{}
	}
	if b, err := json.Marshal(subjects); err == nil {
		user.TopSubjects = string(b)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewSession creates a fresh session with an empty profile context and
// returns its token. Used when a caller wants to discard conversation
// state and start over.
func (s *Service) NewSession(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if err := s.store.CreateSession(ctx, id, storage.EmptyContext()); err != nil {
		return "", fmt.Errorf("creating new session: %w", err)
	}
	slog.Info("created new session", "session", id)
	return id, nil
}

// SessionMessages returns the full chronological history for a session.
func (s *Service) SessionMessages(ctx context.Context, sessionID string) ([]storage.ChatMessage, error) {
	return s.store.SessionMessages(ctx, sessionID)
}

// ExistingAssessment returns the session's assessment, or nil when none
// has been recorded yet.
func (s *Service) ExistingAssessment(ctx context.Context, sessionID string) (*storage.Assessment, error) {
	a, err := s.store.GetAssessmentBySession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
