package routing

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// Provider identifiers used across the gateway.
const (
	ProviderRemote = "openrouter"
	ProviderLocal  = "local"
)

// Content analysis patterns. One hit in a group flags the whole group.
var (
	explicitPatterns = compileGroup(
		`\b(sex|sexual|porn|xxx|nude|explicit|nsfw)\b`,
		`\b(erotic|sensual|intimate|seductive)\b`,
		`\b(fetish|bdsm|kinky|adult content)\b`,
	)

	visionPatterns = compileGroup(
		`\b(image|photo|picture|visual|diagram)\b`,
		`\b(see|look|view|analyze.*image)\b`,
		`\b(what.*in.*image|describe.*image)\b`,
	)

	codingPatterns = compileGroup(
		`\b(code|programming|debug|function|class)\b`,
		`\b(python|javascript|typescript|java|c\+\+)\b`,
		`\b(algorithm|implementation|refactor)\b`,
		`\b(github|repository|commit|pull request)\b`,
	)

	toolPatterns = compileGroup(
		`\b(call|invoke|execute|run).*\b(tool|function|api)\b`,
		`\b(search|lookup|find|fetch)\b`,
		`\b(calculate|compute|analyze|process)\b`,
	)
)

func compileGroup(patterns ...string) []*regexp.Regexp {
	group := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		group = append(group, regexp.MustCompile(`(?i)`+p))
	}
	return group
}

// ContentSignals is the result of regex content analysis over a conversation.
type ContentSignals struct {
	Explicit bool
	Vision   bool
	Coding   bool
	Tools    bool
	Images   bool
}

// AnalyzeContent scans the concatenated message text for routing hints and
// the structured content parts for image attachments.
func AnalyzeContent(messages []chat.Message) ContentSignals {
	var parts []string
	for _, msg := range messages {
		if text := msg.Text(); text != "" {
			parts = append(parts, strings.ToLower(text))
		}
	}
	combined := strings.Join(parts, " ")

	return ContentSignals{
		Explicit: matchAny(explicitPatterns, combined),
		Vision:   matchAny(visionPatterns, combined),
		Coding:   matchAny(codingPatterns, combined),
		Tools:    matchAny(toolPatterns, combined),
		Images:   chat.AnyImage(messages),
	}
}

func matchAny(group []*regexp.Regexp, text string) bool {
	for _, re := range group {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Models holds the model slugs the selection table resolves to.
type Models struct {
	Vision       string
	Explicit     string
	Coder        string
	ToolCall     string
	DefaultLocal string
}

// Decision is a resolved (provider, model) pair.
type Decision struct {
	Provider string
	Model    string
}

// Policy picks a provider and model for a request. Availability checks are
// injected so the policy stays pure and testable.
type Policy struct {
	models          Models
	remoteAvailable func() bool
	localAvailable  func() bool
	logger          *zap.Logger
}

// NewPolicy creates a routing policy.
func NewPolicy(models Models, remoteAvailable, localAvailable func() bool, logger *zap.Logger) *Policy {
	if models.DefaultLocal == "" {
		models.DefaultLocal = "q4_7b.gguf"
	}
	return &Policy{
		models:          models,
		remoteAvailable: remoteAvailable,
		localAvailable:  localAvailable,
		logger:          logger,
	}
}

// Decide resolves (provider, model) for a request.
//
// Order: force_model override, provider availability, then content-based
// selection with the first matching row winning.
func (p *Policy) Decide(messages []chat.Message, hasTools bool, forceModel string) (Decision, error) {
	if forceModel != "" {
		if strings.HasPrefix(forceModel, "local/") {
			return Decision{Provider: ProviderLocal, Model: strings.TrimPrefix(forceModel, "local/")}, nil
		}
		return Decision{Provider: ProviderRemote, Model: forceModel}, nil
	}

	if !p.remoteAvailable() {
		if p.localAvailable() {
			p.logger.Warn("Remote provider unavailable, falling back to local")
			return Decision{Provider: ProviderLocal, Model: p.models.DefaultLocal}, nil
		}
		return Decision{}, apperrors.NewNoProviderError("no available providers: remote unavailable and local not running")
	}

	signals := AnalyzeContent(messages)

	switch {
	case signals.Images || signals.Vision:
		return Decision{Provider: ProviderRemote, Model: p.models.Vision}, nil
	case signals.Explicit:
		return Decision{Provider: ProviderRemote, Model: p.models.Explicit}, nil
	case signals.Coding:
		return Decision{Provider: ProviderRemote, Model: p.models.Coder}, nil
	case hasTools || signals.Tools:
		return Decision{Provider: ProviderRemote, Model: p.models.ToolCall}, nil
	default:
		return Decision{Provider: ProviderRemote, Model: p.models.ToolCall}, nil
	}
}

// FallbackOnError returns the fallback decision after the primary provider
// failed. Only remote→local is supported; a failed local run has no fallback.
func (p *Policy) FallbackOnError(primaryProvider string) (Decision, bool) {
	if primaryProvider == ProviderRemote && p.localAvailable() {
		return Decision{Provider: ProviderLocal, Model: p.models.DefaultLocal}, true
	}
	return Decision{}, false
}
