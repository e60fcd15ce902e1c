package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message sender tags.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// User is one real person profile, looked up by exact name. Every new
// assessment naming the user overwrites the profile fields.
type User struct {
	ID                 int64
	Name               string
	Age                *int64
	EducationLevel     string
	TechnicalKnowledge string
	TopSubjects        string // JSON array stored as text
	SubjectAspects     string
	InterestsDreams    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SessionContext is the conversation context persisted with each session.
// UserProfile seeds the AI system prompt; it is always present once the
// orchestrator has touched the session.
type SessionContext struct {
	UserProfile map[string]string `json:"user_profile"`
}

// EmptyContext returns a well-formed context with an initialized profile map.
func EmptyContext() SessionContext {
	return SessionContext{UserProfile: map[string]string{}}
}

// Session is one continuous conversation, identified by an opaque UUID token.
type Session struct {
	ID         string
	UserID     *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RawContext string // JSON as stored; decode via Context()
}

// Context decodes the stored context blob. Callers repair malformed or
// profile-less blobs via SaveSessionContext with EmptyContext().
func (s *Session) Context() (SessionContext, error) {
	var ctx SessionContext
	if err := json.Unmarshal([]byte(s.RawContext), &ctx); err != nil {
		return SessionContext{}, fmt.Errorf("decoding session context: %w", err)
	}
	return ctx, nil
}

// ChatMessage is one utterance in a session. Immutable once created.
type ChatMessage struct {
	ID               int64
	SessionID        string
	Sender           string // SenderUser or SenderAssistant
	Content          string
	CreatedAt        time.Time
	InferredInsights string // optional JSON blob, unused by current logic
}

// Assessment is the finished evaluation for a session: at most one per
// session, referencing exactly one user. Payload holds the full assessment
// JSON verbatim.
type Assessment struct {
	ID        int64
	SessionID string
	UserID    int64
	Payload   string // JSON stored as text
	CreatedAt time.Time
}
