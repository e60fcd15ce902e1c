package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devhq/devy/internal/assessment"
	"github.com/devhq/devy/internal/chat"
	"github.com/devhq/devy/internal/validation"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewHandler returns the HTTP surface of the advisor: the chat page
// context, the chat turn endpoint, session rotation, and a liveness
// probe.
func NewHandler(svc *chat.Service, signer *SessionSigner, appName string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.With(signer.EnsureSession).Get("/", handlePage(svc, appName))
	r.Post("/chat", handleChat(svc, signer))
	r.Post("/new-session", handleNewSession(svc, signer))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"devy"}`))
}

type pageMessage struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type pageContext struct {
	AppName       string              `json:"app_name"`
	SessionID     string              `json:"session_id"`
	Messages      []pageMessage       `json:"messages"`
	HasAssessment bool                `json:"has_assessment"`
	Assessment    *assessment.Payload `json:"assessment"`
}

func handlePage(svc *chat.Service, appName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := SessionFromContext(r.Context())

		msgs, err := svc.SessionMessages(r.Context(), token)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "loading conversation history: %v", err)
			return
		}

		page := pageContext{
			AppName:   appName,
			SessionID: token,
			Messages:  make([]pageMessage, 0, len(msgs)),
		}
		for _, m := range msgs {
			page.Messages = append(page.Messages, pageMessage{
				Sender:    m.Sender,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			})
		}

		stored, err := svc.ExistingAssessment(r.Context(), token)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "loading assessment: %v", err)
			return
		}
		if stored != nil {
			if payload, err := assessment.Decode(stored.Payload); err == nil {
				page.HasAssessment = true
				page.Assessment = payload
			} else {
				slog.Error("stored assessment is unreadable", "session_id", token, "error", err)
			}
		}

		slog.Info("serving chat page",
			"session_id", token,
			"messages", len(page.Messages),
			"has_assessment", page.HasAssessment,
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}
}

type chatResponse struct {
	DevyResponse          string              `json:"devy_response"`
	SessionID             string              `json:"session_id"`
	IsAssessmentComplete  bool                `json:"is_assessment_complete"`
	RecommendationPayload *assessment.Payload `json:"recommendation_payload"`
}

func handleChat(svc *chat.Service, signer *SessionSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		c, err := r.Cookie(SessionCookieName)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Session ID missing. Please refresh the page.")
			return
		}
		token, ok := signer.Verify(c.Value)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Invalid session format. Please refresh the page.")
			return
		}

		if err := r.ParseForm(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid form body: %v", err)
			return
		}
		userMessage := r.PostFormValue("user_message")
		if err := validation.CheckUserMessage(userMessage); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err)
			return
		}

		slog.Info("processing chat message", "session_id", token)

		out, err := svc.ProcessMessage(r.Context(), token, userMessage)
		if err != nil {
			slog.Error("chat turn failed", "session_id", token, "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "An unexpected error occurred. Please try again.")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			DevyResponse:          out.Reply,
			SessionID:             out.SessionID,
			IsAssessmentComplete:  out.AssessmentComplete,
			RecommendationPayload: out.Assessment,
		})
	}
}

func handleNewSession(svc *chat.Service, signer *SessionSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := svc.NewSession(r.Context())
		if err != nil {
			slog.Error("failed to create new session", "error", err)
			httpError(w, http.StatusInternalServerError, "server_error", "Failed to create new session. Please try again.")
			return
		}
		signer.setCookie(w, token)

		slog.Info("new session created", "session_id", token)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"session_id": token,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
