package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/memory"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
)

// Request is one chat completion request entering the pipeline.
type Request struct {
	RequestID   string
	UserID      string
	Model       string
	Messages    []chat.Message
	Temperature float64
	MaxTokens   int
}

// Response is the pipeline's answer to a non-streaming request.
type Response struct {
	ID         string   `json:"id"`
	Created    int64    `json:"created"`
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	Content    string   `json:"content"`
	TokensUsed int      `json:"tokens_used"`
	Intent     string   `json:"intent,omitempty"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
}

// Context is the per-request pipeline state. It is owned by the single
// goroutine orchestrating the request; the Pre fan-out branches each write
// disjoint fields and are joined before any read.
type Context struct {
	RequestID string
	UserID    string
	Messages  []chat.Message

	Intent *intent.Classification
	Route  *intent.Route

	MemorySummary string
	Episodes      []string

	Affect *feeling.Affect
	Tone   *feeling.TonePolicy
	Drive  *drive.Policy
	Energy float64

	Lane          string
	SystemAddenda []string
	Validators    []policy.Validator
	Tools         []chat.ToolDefinition
	VisionObs     string

	FinalText string
	Metadata  map[string]interface{}
}

func newContext(req *Request) *Context {
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	userID := req.UserID
	if userID == "" {
		userID = "anon"
	}
	return &Context{
		RequestID: id,
		UserID:    userID,
		Messages:  req.Messages,
		Energy:    drive.Baseline,
		Metadata:  make(map[string]interface{}),
	}
}

// The orchestrator talks to the specialized engines through these narrow
// interfaces so each engine can run in-process or behind a base URL from
// services.json.

// IntentService classifies requests into families and routing decisions.
type IntentService interface {
	Classify(ctx context.Context, req intent.ClassifyRequest) (*intent.Classification, error)
	Route(ctx context.Context, text string) (*intent.Route, error)
}

// MemoryService serves user traits and episodes.
type MemoryService interface {
	Retrieve(ctx context.Context, userID, query string, limit int, minConfidence float64) (*memory.RetrieveResult, error)
	Summary(ctx context.Context, userID string) (*memory.SummaryResult, error)
	StoreCandidate(ctx context.Context, userID, content string, confidence float64) error
}

// FeelingService provides affect analysis, tone policies, draft critique and
// emotion-template augmentation.
type FeelingService interface {
	Analyze(ctx context.Context, text string) (*feeling.Affect, error)
	Tone(ctx context.Context, text, targetAudience string) (*feeling.TonePolicy, error)
	Critique(ctx context.Context, text string, maxTokens int) (string, error)
	Augment(ctx context.Context, systemPrompt, templateID string) (string, error)
}

// DriveService exposes the per-user drive state and its style policy.
type DriveService interface {
	State(ctx context.Context, userID string) (*drive.State, error)
	StylePolicy(ctx context.Context, userID string) (*drive.Policy, error)
}

// PolicyService applies lane templates and validates drafts.
type PolicyService interface {
	Apply(ctx context.Context, lane string, affect policy.Affect, drv policy.Drive) (*policy.Applied, error)
	Validate(ctx context.Context, lane, text string) (*policy.Validated, error)
}

// TelemetryService records structured events.
type TelemetryService interface {
	Log(ctx context.Context, event string, payload map[string]interface{}) error
}

// ToolSource provides the tool schema offered to the model.
type ToolSource interface {
	Definitions(ctx context.Context) ([]chat.ToolDefinition, error)
}

// VisionObserver turns multimodal attachments into observation text.
type VisionObserver interface {
	Observe(ctx context.Context, messages []chat.Message) (string, error)
}
