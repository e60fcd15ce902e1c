// Package validation holds input checks applied before any persistence or
// AI call: session-token format, user-message limits, and sanitization of
// user-authored text.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	// MaxMessageLength is the hard cap on raw user message length.
	MaxMessageLength = 5000

	// DefaultSanitizeLength caps sanitized text stored from user input.
	DefaultSanitizeLength = 1000

	// spamRatio rejects messages where one character dominates.
	spamRatio = 0.8
)

// Typed reasons for message rejection. Handlers map these to user-facing
// client errors.
var (
	ErrMessageEmpty   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message is too long (maximum 5000 characters)")
	ErrMessageSpam    = errors.New("message appears to be spam")
)

// Canonical UUID textual form: 8-4-4-4-12 hex groups, case-insensitive.
var sessionTokenPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidSessionToken reports whether token is a canonically formatted UUID.
func ValidSessionToken(token string) bool {
	return sessionTokenPattern.MatchString(token)
}

// CheckUserMessage validates a raw chat message. Returns nil when the
// message is acceptable, or one of the typed reasons above. Limits and
// ratios count characters, not bytes.
func CheckUserMessage(message string) error {
	if len(strings.TrimSpace(message)) < 1 {
		return ErrMessageEmpty
	}
	length := utf8.RuneCountInString(message)
	if length > MaxMessageLength {
		return ErrMessageTooLong
	}
	// A single repeated character making up >80% of the message is treated
	// as spam. The first character is the representative, matching the
	// common paste-flood pattern.
	first, _ := utf8.DecodeRuneInString(message)
	if float64(strings.Count(message, string(first))) > float64(length)*spamRatio {
		return ErrMessageSpam
	}
	return nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize strips HTML markup from user-authored text, collapses whitespace
// runs to single spaces, trims, and truncates to max bytes (rune-safe).
// Script and style element content is dropped along with the tags. Pass
// max <= 0 for the default limit. Never applied to AI-authored content.
func Sanitize(text string, max int) string {
	if max <= 0 {
		max = DefaultSanitizeLength
	}

	stripped := stripMarkup(text)
	collapsed := strings.TrimSpace(whitespaceRun.ReplaceAllString(stripped, " "))

	if len(collapsed) > max {
		cut := max
		for cut > 0 && !isRuneStart(collapsed[cut]) {
			cut--
		}
		collapsed = strings.TrimSpace(collapsed[:cut])
	}
	return collapsed
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// stripMarkup removes any tag-shaped markup using the HTML tokenizer,
// keeping only text content outside script/style elements.
func stripMarkup(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}

	var sb strings.Builder
	tz := html.NewTokenizer(strings.NewReader(text))
	skipDepth := 0
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tz.Text())
			}
		case html.StartTagToken:
			if name, _ := tz.TagName(); isSkippedElement(name) {
				skipDepth++
			}
		case html.EndTagToken:
			if name, _ := tz.TagName(); isSkippedElement(name) && skipDepth > 0 {
				skipDepth--
			}
		}
	}
}

func isSkippedElement(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}
