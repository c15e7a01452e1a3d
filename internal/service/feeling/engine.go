package feeling

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Affect is the result of /affect/analyze.
type Affect struct {
	Sentiment        string   `json:"sentiment"`
	Emotions         []string `json:"emotions"`
	DialogAct        string   `json:"dialog_act"`
	Urgency          string   `json:"urgency"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs float64  `json:"processing_time_ms"`
}

// TonePolicy is the result of /affect/tone.
type TonePolicy struct {
	TonePolicies []string `json:"tone_policies"`
	PrimaryTone  string   `json:"primary_tone"`
	Confidence   float64  `json:"confidence"`
}

// Engine bundles the stateless affect analyzers.
type Engine struct {
	templates *TemplateRegistry
	logger    *zap.Logger
}

// NewEngine creates the feeling engine with the built-in template registry.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		templates: NewTemplateRegistry(),
		logger:    logger,
	}
}

// Templates exposes the emotion template registry.
func (e *Engine) Templates() *TemplateRegistry { return e.templates }

var wordRx = regexp.MustCompile(`\b\w+\b`)

// Analyze runs sentiment, emotion, dialog-act and urgency analysis.
func (e *Engine) Analyze(text string) Affect {
	start := time.Now()

	sentiment, confidence := analyzeSentiment(text)

	return Affect{
		Sentiment:        sentiment,
		Emotions:         detectEmotions(text),
		DialogAct:        classifyDialogAct(text),
		Urgency:          detectUrgency(text),
		Confidence:       confidence,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func analyzeSentiment(text string) (string, float64) {
	words := wordRx.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return "neutral", 0.5
	}

	var positive, negative float64
	for i, word := range words {
		multiplier := 1.0
		if i > 0 && intensifiers[words[i-1]] {
			multiplier = intensifierMultiplier
		}
		switch {
		case positiveWords[word]:
			positive += multiplier
		case negativeWords[word]:
			negative += multiplier
		}
	}

	denom := float64(len(words)) * 0.1
	if denom < 1 {
		denom = 1
	}

	switch {
	case positive > negative:
		return "positive", minFloat(0.9, positive/denom)
	case negative > positive:
		return "negative", minFloat(0.9, negative/denom)
	default:
		return "neutral", 0.5
	}
}

func detectEmotions(text string) []string {
	lower := strings.ToLower(text)
	var detected []string
	for _, ep := range emotionPatterns {
		for _, kw := range ep.keywords {
			if strings.Contains(lower, kw) {
				detected = append(detected, ep.emotion)
				break
			}
		}
	}
	return detected
}

var dialogActRegexes = compileDialogActs()

func compileDialogActs() []struct {
	act string
	res []*regexp.Regexp
} {
	compiled := make([]struct {
		act string
		res []*regexp.Regexp
	}, 0, len(dialogActPatterns))
	for _, ap := range dialogActPatterns {
		res := make([]*regexp.Regexp, 0, len(ap.patterns))
		for _, p := range ap.patterns {
			res = append(res, regexp.MustCompile(p))
		}
		compiled = append(compiled, struct {
			act string
			res []*regexp.Regexp
		}{ap.act, res})
	}
	return compiled
}

func classifyDialogAct(text string) string {
	lower := strings.TrimSpace(strings.ToLower(text))
	for _, ap := range dialogActRegexes {
		for _, re := range ap.res {
			if re.MatchString(lower) {
				return ap.act
			}
		}
	}
	return "statement"
}

func detectUrgency(text string) string {
	lower := strings.ToLower(text)
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			return "high"
		}
	}
	for _, w := range lowUrgencyWords {
		if strings.Contains(lower, w) {
			return "low"
		}
	}
	return "medium"
}

// Tone generates tone policies for a text and target audience.
func (e *Engine) Tone(text, targetAudience string) TonePolicy {
	lower := strings.ToLower(text)
	if targetAudience == "" {
		targetAudience = "general"
	}

	var policies []string
	primaryTone := "neutral"

	formalScore := countContains(lower, formalIndicators)
	casualScore := countContains(lower, casualIndicators)

	if formalScore > casualScore {
		policies = append(policies, "Use formal language and professional tone")
		primaryTone = "formal"
	} else if casualScore > formalScore {
		policies = append(policies, "Use casual, friendly language")
		primaryTone = "casual"
	}

	if countContains(lower, emotionalIndicators) > 0 {
		policies = append(policies, "Maintain enthusiastic and engaging tone")
		if primaryTone == "neutral" {
			primaryTone = "enthusiastic"
		}
	}

	switch targetAudience {
	case "technical":
		policies = append(policies,
			"Use technical terminology appropriately",
			"Focus on clarity and precision")
	case "general":
		policies = append(policies, "Use accessible language for broad audience")
	case "expert":
		policies = append(policies,
			"Use domain-specific terminology",
			"Assume background knowledge")
	}

	if len(policies) == 0 {
		policies = []string{
			"Use clear and concise language",
			"Maintain professional yet approachable tone",
			"Be helpful and informative",
		}
	}

	return TonePolicy{
		TonePolicies: policies,
		PrimaryTone:  primaryTone,
		Confidence:   0.8,
	}
}

func countContains(text string, needles []string) int {
	count := 0
	for _, n := range needles {
		if strings.Contains(text, n) {
			count++
		}
	}
	return count
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
