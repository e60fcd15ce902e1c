// Package careers defines the closed set of career paths the advisor
// evaluates, together with the scoring bands used in prompts and validation.
package careers

import "strings"

// Paths is the fixed, ordered set of supported career paths. Assessments
// must score every one of them.
var Paths = []string{
	"Frontend Developer",
	"Backend Developer",
	"Mobile Developer",
	"Data Scientist",
	"Machine Learning Engineer",
	"UI/UX Designer",
}

// Descriptions maps each career path to a one-line focus description used
// in the system prompt.
var Descriptions = map[string]string{
	"Frontend Developer":        "Building the visual and interactive parts of websites or web apps that users directly interact with.",
	"Backend Developer":         "Creating and managing the behind-the-scenes systems that handle business logic, databases, and APIs.",
	"Mobile Developer":          "Developing applications specifically for mobile devices like smartphones and tablets.",
	"Data Scientist":            "Analyzing data to uncover patterns, generate insights, and support decision-making.",
	"Machine Learning Engineer": "Building, training, and deploying machine learning models into production systems.",
	"UI/UX Designer":            "Designing user experiences and interfaces that are intuitive, aesthetically pleasing, and user-centered.",
}

// ScoreBand is a named match-score range with guidance text.
type ScoreBand struct {
	Name        string `json:"name"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	Description string `json:"description"`
}

// ScoreBands covers 0-100 with five contiguous, non-overlapping bands,
// ordered from best match to worst.
var ScoreBands = []ScoreBand{
	{Name: "excellent", Min: 90, Max: 100, Description: "Excellent match - perfect alignment with skills, interests, and personality"},
	{Name: "strong", Min: 75, Max: 89, Description: "Strong match - very good alignment with room for growth"},
	{Name: "good", Min: 60, Max: 74, Description: "Good match - alignment in key areas with some development needed"},
	{Name: "moderate", Min: 40, Max: 59, Description: "Moderate match - some alignment but significant development needed"},
	{Name: "low", Min: 0, Max: 39, Description: "Low match - limited alignment, would require substantial development"},
}

// Count returns the number of supported career paths. An assessment must
// contain exactly this many recommendations.
func Count() int {
	return len(Paths)
}

// Normalize matches a free-text career name against the supported set,
// case-insensitively, returning the canonical name and whether it matched.
func Normalize(name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, career := range Paths {
		if strings.ToLower(career) == needle {
			return career, true
		}
	}
	return "", false
}
