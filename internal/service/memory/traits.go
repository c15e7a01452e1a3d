package memory

import (
	"regexp"
	"strings"
)

// TraitCandidate is an extracted trait before the write policy is applied.
type TraitCandidate struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// First-person statement patterns with their baseline confidences.
var traitPatterns = []struct {
	re         *regexp.Regexp
	key        string
	confidence float64
}{
	{regexp.MustCompile(`(?i)(?:I am|I'm)\s+(\w+)`), "personality", 0.7},
	{regexp.MustCompile(`(?i)I (?:like|love|enjoy)\s+([^.!?]+)`), "preference", 0.6},
	// Needs an explicit "work as"/"employed at" phrasing; a bare "I'm a
	// teacher" lands in personality instead.
	{regexp.MustCompile(`(?i)I (?:work|am employed)\s+(?:as|at)\s+([^.!?]+)`), "occupation", 0.8},
	{regexp.MustCompile(`(?i)I live in\s+([^.!?]+)`), "location", 0.8},
	{regexp.MustCompile(`(?i)My (?:name is|name's)\s+(\w+)`), "name", 0.9},
	{regexp.MustCompile(`(?i)I (?:hate|dislike|don't like)\s+([^.!?]+)`), "dislike", 0.6},
}

// ExtractTraits pulls trait candidates from content.
func ExtractTraits(content string) []TraitCandidate {
	var traits []TraitCandidate
	for _, tp := range traitPatterns {
		for _, match := range tp.re.FindAllStringSubmatch(content, -1) {
			value := strings.TrimSpace(match[1])
			if value == "" {
				continue
			}
			traits = append(traits, TraitCandidate{
				Key:        tp.key,
				Value:      value,
				Confidence: tp.confidence,
			})
		}
	}
	return traits
}
