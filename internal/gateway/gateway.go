// Package gateway turns one chat turn (user message, known profile, bounded
// history) into either a conversational reply or a validated structured
// assessment, never both.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devhq/devy/internal/assessment"
	"github.com/devhq/devy/internal/storage"
)

// Acknowledgement is the fixed reply text delivered alongside a completed
// assessment.
const Acknowledgement = "Here is your personalized career assessment:"

// historyWindow is the number of recent messages replayed into the model.
const historyWindow = 10

// Chatter is the chat-completion call the gateway depends on. Implemented
// by *Client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// Config holds the provider settings the gateway needs. All three fields
// are required; New fails fast when any is missing so a misconfigured
// gateway never raises mid-conversation.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Gateway owns the model client and the per-turn conversation contract.
type Gateway struct {
	client Chatter
	model  string
}

// New builds a Gateway from config, validating that every provider setting
// is present.
func New(cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gateway: missing API credential")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: missing endpoint URL")
	}
	if cfg.Model == "" {
		return nil, errors.New("gateway: missing model identifier")
	}
	return &Gateway{client: NewClient(cfg.APIKey, cfg.BaseURL), model: cfg.Model}, nil
}

// NewWithChatter creates a Gateway around an existing Chatter (used by
// tests and by callers that construct their own client).
func NewWithChatter(client Chatter, model string) *Gateway {
	return &Gateway{client: client, model: model}
}

// Outcome is the tagged result of one turn: either a conversational reply
// (Completed false, Assessment nil) or a completed assessment (Completed
// true, Reply set to the fixed acknowledgement). Upstream failures arrive
// as a conversational reply carrying a safe error string.
type Outcome struct {
	Reply      string
	Completed  bool
	Assessment *assessment.Payload
}

// Converse runs one turn. It never returns an error: every failure mode is
// folded into a user-facing reply so the orchestrator can persist it as the
// assistant's message and keep history consistent.
func (g *Gateway) Converse(ctx context.Context, userMessage string, profile map[string]string, history []storage.ChatMessage, excludeID int64) Outcome {
	messages := []Message{{Role: "system", Content: BuildSystemPrompt(profile)}}
	messages = append(messages, formatHistory(history, excludeID)...)
	messages = append(messages, Message{Role: "user", Content: userMessage})

	slog.Info("sending conversation to model", "messages", len(messages), "model", g.model)

	raw, err := g.client.Chat(ctx, g.model, messages)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			slog.Error("model API status error", "status", apiErr.Status, "message", apiErr.Message)
			return Outcome{Reply: fmt.Sprintf("AI Service Error (%d): %s", apiErr.Status, apiErr.Message)}
		}
		slog.Error("model request failed", "error", err)
		return Outcome{Reply: "I'm having trouble processing your request. Please try again in a moment."}
	}

	if payload := assessment.DecodeValid(raw); payload != nil {
		slog.Info("model response classified as completed assessment")
		return Outcome{Reply: Acknowledgement, Completed: true, Assessment: payload}
	}

	return Outcome{Reply: raw}
}

// formatHistory converts stored messages into model messages: the most
// recent window in chronological order, excluding the message identified by
// excludeID (the one just persisted for the current turn). Assistant
// messages that parse as JSON are previously delivered assessments, not
// conversation, and are dropped.
func formatHistory(history []storage.ChatMessage, excludeID int64) []Message {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	var out []Message
	for _, msg := range history {
		if msg.ID == excludeID {
			continue
		}
		switch msg.Sender {
		case storage.SenderUser:
			out = append(out, Message{Role: "user", Content: msg.Content})
		case storage.SenderAssistant:
			if assessment.IsJSON(msg.Content) {
				continue
			}
			out = append(out, Message{Role: "assistant", Content: msg.Content})
		}
	}
	return out
}
