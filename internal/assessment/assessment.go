// Package assessment defines the structured career-assessment payload the
// model produces once it has gathered enough profile information, along
// with decoding and structural validation.
package assessment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devhq/devy/internal/careers"
)

// UserSummary is the profile the model extracted from the conversation.
// Age is a string because the model may answer with non-numeric values
// ("around 20"); callers parse it only when it is purely digits.
type UserSummary struct {
	Name               string   `json:"name"`
	Age                *string  `json:"age"`
	EducationLevel     *string  `json:"education_level"`
	TechnicalKnowledge *string  `json:"technical_knowledge"`
	TopSubjects        []string `json:"top_subjects"`
	SubjectAspects     *string  `json:"subject_aspects"`
	InterestsDreams    *string  `json:"interests_dreams"`
	OtherNotes         *string  `json:"other_notes"`
}

// Recommendation scores a single career path.
type Recommendation struct {
	CareerName         string   `json:"career_name"`
	MatchScore         int      `json:"match_score"`
	Reasoning          string   `json:"reasoning"`
	SuggestedNextSteps []string `json:"suggested_next_steps"`
}

// Payload is the complete assessment: user summary, one recommendation per
// supported career path (descending by score), and overall notes.
type Payload struct {
	UserSummary     UserSummary      `json:"user_summary"`
	Recommendations []Recommendation `json:"career_recommendations"`
	OverallNotes    string           `json:"overall_assessment_notes"`
}

// Decode parses raw model output as an assessment payload. A non-nil error
// means the text is not JSON at all; structural problems are reported by
// Validate, not here.
func Decode(raw string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding assessment: %w", err)
	}
	return &p, nil
}

// IsJSON reports whether raw parses as any JSON value. Used to recognize
// previously delivered assessments in stored history.
func IsJSON(raw string) bool {
	var v any
	return json.Unmarshal([]byte(raw), &v) == nil
}

// Validate checks the payload shape and collects every violation rather
// than stopping at the first, so all problems surface at once.
func (p *Payload) Validate() []string {
	var errs []string

	if strings.TrimSpace(p.UserSummary.Name) == "" {
		errs = append(errs, "user_summary must contain a non-empty name")
	}

	want := careers.Count()
	if len(p.Recommendations) != want {
		errs = append(errs, fmt.Sprintf("career_recommendations must contain exactly %d items, got %d", want, len(p.Recommendations)))
	}
	for i, rec := range p.Recommendations {
		if rec.CareerName == "" {
			errs = append(errs, fmt.Sprintf("recommendation %d missing career_name", i))
		}
		if rec.MatchScore < 0 || rec.MatchScore > 100 {
			errs = append(errs, fmt.Sprintf("recommendation %d match_score must be 0-100, got %d", i, rec.MatchScore))
		}
		if rec.Reasoning == "" {
			errs = append(errs, fmt.Sprintf("recommendation %d missing reasoning", i))
		}
		if rec.SuggestedNextSteps == nil {
			errs = append(errs, fmt.Sprintf("recommendation %d missing suggested_next_steps", i))
		}
	}

	if strings.TrimSpace(p.OverallNotes) == "" {
		errs = append(errs, "missing overall_assessment_notes")
	}

	return errs
}

// DecodeValid decodes raw and additionally requires the payload to pass
// structural validation. Returns nil when the text is either not JSON or
// JSON of the wrong shape; both mean "not an assessment" to callers.
func DecodeValid(raw string) *Payload {
	p, err := Decode(raw)
	if err != nil {
		return nil
	}
	if errs := p.Validate(); len(errs) > 0 {
		return nil
	}
	return p
}
