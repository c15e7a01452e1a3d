package policy

import "regexp"

// Filter is a named content rule from the global registry.
type Filter struct {
	Name        string
	Patterns    []string
	Severity    string
	Description string

	// MaxSentences marks the length filter, which counts sentences
	// instead of matching patterns.
	MaxSentences int

	compiled []*regexp.Regexp
}

// filterRegistry is the global filter table. Lanes reference filters by name.
var filterRegistry = buildFilterRegistry()

func buildFilterRegistry() map[string]*Filter {
	filters := []*Filter{
		{
			Name: "security",
			Patterns: []string{
				`eval\s*\(`,
				`exec\s*\(`,
				`password\s*=\s*['"][^'"]*['"]`,
				`import\s+os\s*;?\s*os\.system`,
				`subprocess\.(call|Popen|run)`,
			},
			Severity:    "high",
			Description: "Security vulnerability detected",
		},
		{
			Name: "syntax",
			Patterns: []string{
				`def\s+\w+\s*\([^)]*$`,
				`class\s+\w+\s*:\s*$`,
				`if\s+.*:\s*$`,
				`for\s+.*:\s*$`,
			},
			Severity:    "medium",
			Description: "Syntax error detected",
		},
		{
			Name: "imports",
			Patterns: []string{
				`import\s+\w+`,
				`from\s+\w+\s+import`,
			},
			Severity:    "low",
			Description: "Import statement validation",
		},
		{
			Name:         "length",
			MaxSentences: 5,
			Severity:     "medium",
			Description:  "Response length exceeds limit",
		},
		{
			Name: "tone",
			Patterns: []string{
				`\b(hate|stupid|idiot|dumb)\b`,
				`\b(you.*should|you.*must)\b.*!`,
			},
			Severity:    "high",
			Description: "Inappropriate tone detected",
		},
		{
			Name: "appropriateness",
			Patterns: []string{
				`\b(hate|stupid|idiot|dumb|moron)\b`,
				`\b(die|kill|hurt)\b.*\b(yourself|someone)\b`,
			},
			Severity:    "high",
			Description: "Inappropriate content detected",
		},
		{
			Name: "originality",
			Patterns: []string{
				`This is a copy of`,
				`Plagiarized from`,
				`Stolen content`,
			},
			Severity:    "high",
			Description: "Potential plagiarism detected",
		},
		{
			Name: "coherence",
			Patterns: []string{
				`\.\s*[A-Z]`,
				`\?\s*[a-z]`,
				`!\s*[a-z]`,
			},
			Severity:    "low",
			Description: "Coherence issue detected",
		},
		{
			Name: "engagement",
			Patterns: []string{
				`\b(boring|dull|uninteresting)\b`,
				`no\s+one\s+cares`,
				`whatever`,
			},
			Severity:    "medium",
			Description: "Low engagement content detected",
		},
		{
			Name: "logic",
			Patterns: []string{
				`therefore.*but`,
				`however.*therefore`,
				`because.*although`,
			},
			Severity:    "medium",
			Description: "Logical inconsistency detected",
		},
		{
			Name: "evidence",
			Patterns: []string{
				`because\s+I\s+(think|feel|believe)`,
				`obviously`,
				`clearly`,
			},
			Severity:    "low",
			Description: "Weak evidence detected",
		},
		{
			Name: "objectivity",
			Patterns: []string{
				`I\s+personally\s+(think|believe|feel)`,
				`In\s+my\s+opinion`,
				`This\s+is\s+the\s+best`,
			},
			Severity:    "low",
			Description: "Subjective language detected",
		},
	}

	registry := make(map[string]*Filter, len(filters))
	for _, f := range filters {
		f.compiled = make([]*regexp.Regexp, 0, len(f.Patterns))
		for _, p := range f.Patterns {
			f.compiled = append(f.compiled, regexp.MustCompile(`(?i)`+p))
		}
		registry[f.Name] = f
	}
	return registry
}

// matches reports whether any filter pattern hits the text. Each filter
// contributes at most one issue regardless of how many patterns match.
func (f *Filter) matches(text string) bool {
	for _, re := range f.compiled {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// strip removes every span matched by the filter's patterns. Used to build
// the mechanically repaired text.
func (f *Filter) strip(text string) string {
	for _, re := range f.compiled {
		text = re.ReplaceAllString(text, "")
	}
	return text
}
