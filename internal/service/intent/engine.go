package intent

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ruleConfidence is the confidence reported for rule-based classification.
const ruleConfidence = 0.9

// defaultModelPriority is the stock remote model ladder. Operators override
// it per family via OPENROUTER_PRIORITIES_<FAMILY>.
var defaultModelPriority = []string{
	"openai/gpt-4o-mini",
	"anthropic/claude-3-5-sonnet-20241022",
	"openai/gpt-4o",
	"meta-llama/llama-3.1-70b-instruct",
	"qwen/qwen-2.5-72b-instruct",
}

// Attachment describes a non-text input accompanying a classify request.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// ClassifyRequest is the input of /classify.
type ClassifyRequest struct {
	Text        string       `json:"text"`
	LastIntent  string       `json:"last_intent,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Classification is the output of /classify.
type Classification struct {
	Intent           string  `json:"intent"`
	Confidence       float64 `json:"confidence"`
	NeedsRemote      bool    `json:"needs_remote"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	Reasoning        string  `json:"reasoning"`
}

// Route is the richer routing decision of /route.
type Route struct {
	Family            string   `json:"family"`
	EmotionTemplateID string   `json:"emotion_template_id"`
	Provider          string   `json:"provider"`
	ModelPriority     []string `json:"openrouter_model_priority"`
	Tags              []string `json:"tags"`
}

// Engine is the rule-based intent router.
type Engine struct {
	priorities                map[Family][]string
	allowExternalForRegulated bool
	logger                    *zap.Logger
}

// NewEngine creates the intent engine. priorities overrides the stock model
// ladder per family (keys are upper-case family names).
func NewEngine(priorities map[string][]string, allowExternalForRegulated bool, logger *zap.Logger) *Engine {
	resolved := map[Family][]string{
		FamilyTech:             defaultModelPriority,
		FamilyLegal:            defaultModelPriority,
		FamilyPsychotherapy:    defaultModelPriority,
		FamilyRegulated:        defaultModelPriority,
		FamilyGeneralPrecision: nil,
		FamilyOpenEnded:        nil,
	}
	for name, list := range priorities {
		if len(list) > 0 {
			resolved[Family(strings.ToUpper(name))] = list
		}
	}
	return &Engine{
		priorities:                resolved,
		allowExternalForRegulated: allowExternalForRegulated,
		logger:                    logger,
	}
}

// Route builds the full routing decision for a text.
func (e *Engine) Route(text string, tagsIn []string) Route {
	family := Classify(text)
	tpl := templateFor(family)
	provider := providerFor(family, e.allowExternalForRegulated)

	tags := append([]string(nil), tagsIn...)
	switch family {
	case FamilyTech, FamilyLegal, FamilyRegulated:
		tags = appendUnique(tags, "no_emotion")
	case FamilyPsychotherapy:
		tags = appendUnique(tags, "psychotherapy")
	}

	return Route{
		Family:            string(family),
		EmotionTemplateID: tpl,
		Provider:          provider,
		ModelPriority:     e.priorities[family],
		Tags:              tags,
	}
}

// Classify runs family classification plus the remote-processing gate.
func (e *Engine) Classify(req ClassifyRequest) Classification {
	start := time.Now()

	intent := Classify(req.Text).Intent()
	confidence := ruleConfidence
	reasoning := "Rule-based family classification"

	// Attachments override the text classification outright.
	for _, att := range req.Attachments {
		lower := strings.ToLower(att.Type)
		if strings.Contains(lower, "image") {
			intent, confidence, reasoning = "mm_image", 0.95, "Image attachment detected"
			break
		}
		if strings.Contains(lower, "audio") {
			intent, confidence, reasoning = "mm_audio", 0.95, "Audio attachment detected"
			break
		}
	}

	return Classification{
		Intent:           intent,
		Confidence:       confidence,
		NeedsRemote:      shouldUseRemote(req.Text, intent, confidence, req.Attachments),
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Reasoning:        fmt.Sprintf("%s (intent=%s)", reasoning, intent),
	}
}

// remoteIntents always escalate to remote processing.
var remoteIntents = map[string]bool{
	"technical": true,
	"mm_image":  true,
	"mm_audio":  true,
	"finance":   true,
}

// complexityKeywords suggest deep reasoning when two or more appear.
var complexityKeywords = []string{
	"explain", "analyze", "compare", "summarize", "create", "generate",
	"write", "compose", "design", "plan", "strategy", "algorithm",
}

// shouldUseRemote decides whether a classified request needs the remote tier.
func shouldUseRemote(text, intent string, confidence float64, attachments []Attachment) bool {
	if len(text) > 1000 {
		return true
	}
	if confidence < 0.8 {
		return true
	}
	for _, att := range attachments {
		switch att.Type {
		case "image", "audio", "video", "document":
			return true
		}
	}
	if remoteIntents[intent] {
		return true
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
