package feeling

import (
	"fmt"
	"regexp"
	"strings"
)

// Critique is the result of /affect/critique.
type Critique struct {
	CleanedText    string   `json:"cleaned_text"`
	OriginalTokens int      `json:"original_tokens"`
	CleanedTokens  int      `json:"cleaned_tokens"`
	ChangesMade    []string `json:"changes_made"`
}

// DefaultCritiqueMaxTokens bounds the cleaned text when the caller sends none.
const DefaultCritiqueMaxTokens = 100

var (
	whitespaceRx    = regexp.MustCompile(`\s+`)
	trailingPunctRx = regexp.MustCompile(`[.!?]+$`)
)

// Critique cleans a model draft: drops overused filler words, collapses
// immediate word and phrase repetition, normalizes whitespace and truncates
// to a word budget. Running it on already-clean text is a no-op.
func (e *Engine) Critique(text string, maxTokens int) Critique {
	if maxTokens <= 0 {
		maxTokens = DefaultCritiqueMaxTokens
	}

	var changes []string
	cleaned := text

	// Filler words go only when they are a habit, not an occurrence.
	for _, filler := range fillerWords {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(filler) + `\b`)
		matches := re.FindAllString(cleaned, -1)
		if len(matches) > 2 {
			cleaned = re.ReplaceAllString(cleaned, "")
			changes = append(changes, fmt.Sprintf("Removed %d instances of filler word '%s'", len(matches), filler))
		}
	}

	cleaned, repeatChanges := collapseRepetition(cleaned)
	changes = append(changes, repeatChanges...)

	cleaned = strings.TrimSpace(whitespaceRx.ReplaceAllString(cleaned, " "))

	originalTokens := len(strings.Fields(text))
	cleanedTokens := len(strings.Fields(cleaned))

	if cleanedTokens > maxTokens {
		words := strings.Fields(cleaned)
		cleaned = strings.Join(words[:maxTokens], " ")
		changes = append(changes, fmt.Sprintf("Truncated text to %d tokens", maxTokens))
		cleanedTokens = maxTokens
	}

	cleaned = trailingPunctRx.ReplaceAllString(cleaned, ".")

	return Critique{
		CleanedText:    cleaned,
		OriginalTokens: originalTokens,
		CleanedTokens:  cleanedTokens,
		ChangesMade:    changes,
	}
}

// collapseRepetition drops immediately repeated words ("the the") and
// repeated two-word phrases ("very nice very nice"). Token scan instead of
// backreference regexes, which RE2 does not support.
func collapseRepetition(text string) (string, []string) {
	words := strings.Fields(text)
	if len(words) < 2 {
		return text, nil
	}

	var changes []string
	out := make([]string, 0, len(words))

	for i := 0; i < len(words); i++ {
		// Two-word phrase repeated back to back.
		if i+3 < len(words) &&
			len(stripPunct(words[i])) >= 3 && len(stripPunct(words[i+1])) >= 3 &&
			equalFold(words[i], words[i+2]) && equalFold(words[i+1], words[i+3]) {
			out = append(out, words[i], words[i+1])
			changes = append(changes, fmt.Sprintf("Removed repetitive phrase '%s %s'", stripPunct(words[i]), stripPunct(words[i+1])))
			i += 3
			continue
		}
		// Single word repeated back to back.
		if i+1 < len(words) && equalFold(words[i], words[i+1]) {
			out = append(out, words[i])
			changes = append(changes, fmt.Sprintf("Removed repetitive phrase '%s'", stripPunct(words[i])))
			i++
			continue
		}
		out = append(out, words[i])
	}

	return strings.Join(out, " "), changes
}

func equalFold(a, b string) bool {
	return strings.EqualFold(stripPunct(a), stripPunct(b))
}

func stripPunct(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
}
