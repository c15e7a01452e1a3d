package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// Affect is the emotional context substituted into lane templates.
type Affect struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// Drive is the drive context substituted into lane templates.
type Drive struct {
	Energy float64 `json:"energy"`
	Focus  float64 `json:"focus"`
}

// Validator describes one check a downstream consumer can run on a draft.
type Validator struct {
	Type        string                 `json:"type"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Description string                 `json:"description"`
}

// Applied is the /policy/apply payload.
type Applied struct {
	SystemFinal string      `json:"system_final"`
	Validators  []Validator `json:"validators"`
}

// Repair is a fix suggestion for one validation issue.
type Repair struct {
	Type     string `json:"type"`
	Issue    string `json:"issue"`
	Repair   string `json:"repair"`
	Severity string `json:"severity"`
}

// Validated is the /policy/validate payload. OK is true iff no issues arose.
// Repaired carries a mechanically fixed text (pattern removal, truncation)
// when any issue admits one.
type Validated struct {
	OK       bool     `json:"ok"`
	Repairs  []Repair `json:"repairs"`
	Repaired string   `json:"repaired,omitempty"`
}

type issue struct {
	typ      string
	text     string
	severity string
}

// Engine enforces deterministic lane policies: templated system prompts on
// the way in, filter/schema/length validation with repair suggestions on the
// way out.
type Engine struct {
	lanes   map[string]*Lane
	schemas map[string]*jsonschema.Schema
	logger  *zap.Logger
}

// NewEngine compiles the lane schemas and builds the engine.
func NewEngine(logger *zap.Logger) (*Engine, error) {
	lanes := laneConfigs()
	schemas := make(map[string]*jsonschema.Schema, len(lanes))

	for name, lane := range lanes {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", lane.Schema); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		schemas[name] = schema
	}

	return &Engine{lanes: lanes, schemas: schemas, logger: logger}, nil
}

// Lanes returns the lane names and configs for /policy/lanes.
func (e *Engine) Lanes() map[string]*Lane { return e.lanes }

// Apply substitutes the request context into the lane template and returns
// the final system prompt plus the validator set for the lane.
func (e *Engine) Apply(laneName string, affect Affect, drive Drive) (*Applied, error) {
	lane, ok := e.lanes[laneName]
	if !ok {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown lane: %s", laneName))
	}

	schemaJSON, err := json.MarshalIndent(lane.Schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", laneName, err)
	}

	systemFinal := strings.NewReplacer(
		"{schema}", string(schemaJSON),
		"{emotion}", affect.Emotion,
		"{intensity}", formatFloat(affect.Intensity),
		"{energy}", formatFloat(drive.Energy),
		"{focus}", formatFloat(drive.Focus),
	).Replace(lane.Template)

	validators := []Validator{{
		Type:        "schema",
		Schema:      lane.Schema,
		Description: fmt.Sprintf("JSON schema validation for %s responses", laneName),
	}}
	for _, filterName := range lane.Filters {
		filter, ok := filterRegistry[filterName]
		if !ok {
			continue
		}
		for _, pattern := range filter.Patterns {
			validators = append(validators, Validator{
				Type:        "filter",
				Pattern:     pattern,
				Description: filter.Description,
			})
		}
	}

	return &Applied{SystemFinal: systemFinal, Validators: validators}, nil
}

var sentenceRx = regexp.MustCompile(`[.!?]+`)

// Validate checks a draft against the lane's filters, schema and length
// bounds, returning repair suggestions for every issue found.
func (e *Engine) Validate(laneName, text string) (*Validated, error) {
	lane, ok := e.lanes[laneName]
	if !ok {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown lane: %s", laneName))
	}

	var issues []issue
	repaired := text

	for _, filterName := range lane.Filters {
		filter, ok := filterRegistry[filterName]
		if !ok {
			continue
		}
		if filter.MaxSentences > 0 {
			if countSentences(text) > filter.MaxSentences {
				issues = append(issues, issue{"filter", filter.Description, filter.Severity})
				repaired = truncateSentences(repaired, filter.MaxSentences)
			}
			continue
		}
		if filter.matches(text) {
			issues = append(issues, issue{"filter", filter.Description, filter.Severity})
			repaired = filter.strip(repaired)
		}
	}

	// Bracketed JSON must satisfy the lane schema.
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if !e.validJSON(laneName, trimmed) {
			issues = append(issues, issue{"schema", "Content does not match required JSON schema", "high"})
		}
	}

	maxLength := lane.MaxLength
	if maxLength == 0 {
		maxLength = defaultMaxLength
	}
	if len(text) > maxLength {
		issues = append(issues, issue{
			"length",
			fmt.Sprintf("Content exceeds maximum length of %d characters", maxLength),
			"medium",
		})
		if len(repaired) > maxLength {
			repaired = repaired[:maxLength]
		}
	}

	repairs := make([]Repair, 0, len(issues))
	for _, is := range issues {
		repairs = append(repairs, Repair{
			Type:     is.typ,
			Issue:    is.text,
			Repair:   repairSuggestion(is.text, laneName),
			Severity: is.severity,
		})
	}

	result := &Validated{OK: len(issues) == 0, Repairs: repairs}
	if repaired != text {
		result.Repaired = strings.TrimSpace(repaired)
	}
	return result, nil
}

// truncateSentences keeps the first max sentences with their terminators.
func truncateSentences(text string, max int) string {
	locs := sentenceRx.FindAllStringIndex(text, -1)
	count := 0
	prev := 0
	for _, loc := range locs {
		if strings.TrimSpace(text[prev:loc[0]]) != "" {
			count++
			if count == max {
				return text[:loc[1]]
			}
		}
		prev = loc[1]
	}
	return text
}

func (e *Engine) validJSON(laneName, text string) bool {
	var value interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return false
	}
	if err := e.schemas[laneName].Validate(value); err != nil {
		e.logger.Debug("Schema validation failed",
			zap.String("lane", laneName),
			zap.Error(err),
		)
		return false
	}
	return true
}

func countSentences(text string) int {
	count := 0
	for _, s := range sentenceRx.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			count++
		}
	}
	return count
}

// repairSuggestion resolves the fix text from the issue category.
func repairSuggestion(issueText, lane string) string {
	lower := strings.ToLower(issueText)
	switch {
	case strings.Contains(lower, "security"):
		return "Remove or replace insecure code patterns (eval, exec, password literals, etc.)"
	case strings.Contains(lower, "syntax"):
		return "Fix syntax errors in code examples"
	case strings.Contains(lower, "length"):
		if lane == "emotional" {
			return "Reduce response to 3-5 sentences"
		}
		return "Shorten content to meet length requirements"
	case strings.Contains(lower, "tone"):
		return "Use more supportive and appropriate language"
	case strings.Contains(lower, "appropriate"):
		return "Remove inappropriate or harmful content"
	case strings.Contains(lower, "plagiarism"), strings.Contains(lower, "original"):
		return "Ensure content is original and not plagiarized"
	case strings.Contains(lower, "coherence"):
		return "Improve sentence structure and punctuation"
	case strings.Contains(lower, "engagement"):
		return "Make content more engaging and compelling"
	case strings.Contains(lower, "logic"):
		return "Fix logical inconsistencies in reasoning"
	case strings.Contains(lower, "evidence"):
		return "Provide stronger evidence and avoid unsubstantiated claims"
	case strings.Contains(lower, "subjective"), strings.Contains(lower, "objectiv"):
		return "Use more objective language and avoid personal opinions"
	default:
		return "Review and revise content according to lane guidelines"
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
