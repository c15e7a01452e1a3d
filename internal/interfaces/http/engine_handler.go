package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"

	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
)

// --- intent ---

func (h *handlers) classify(c *gin.Context) {
	var req intent.ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.deps.Intent.Classify(req))
}

func (h *handlers) route(c *gin.Context) {
	var req struct {
		UserText string   `json:"user_text"`
		Tags     []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.deps.Intent.Route(req.UserText, req.Tags))
}

// --- feeling ---

func (h *handlers) affectAnalyze(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.deps.Feeling.Analyze(req.Text))
}

func (h *handlers) affectTone(c *gin.Context) {
	var req struct {
		Text           string `json:"text"`
		TargetAudience string `json:"target_audience"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.deps.Feeling.Tone(req.Text, req.TargetAudience))
}

func (h *handlers) critic(c *gin.Context) {
	var req struct {
		Text      string `json:"text"`
		MaxTokens int    `json:"max_tokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = feeling.DefaultCritiqueMaxTokens
	}
	c.JSON(http.StatusOK, h.deps.Feeling.Critique(req.Text, req.MaxTokens))
}

func (h *handlers) augment(c *gin.Context) {
	var req struct {
		SystemPrompt      string `json:"system_prompt"`
		EmotionTemplateID string `json:"emotion_template_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.deps.Feeling.Augment(req.SystemPrompt, req.EmotionTemplateID))
}

func (h *handlers) templates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.deps.Feeling.Templates().List()})
}

// --- memory ---

func (h *handlers) memRetrieve(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("user_id is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("k", "5"))
	minConfidence, _ := strconv.ParseFloat(c.DefaultQuery("min_confidence", "0"), 64)

	res, err := h.deps.Memory.Retrieve(c.Request.Context(), userID, c.Query("intent"), limit, minConfidence)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) memSummary(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("user_id is required"))
		return
	}
	res, err := h.deps.Memory.Summary(c.Request.Context(), userID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) memCandidates(c *gin.Context) {
	var req struct {
		UserID     string  `json:"user_id"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if req.UserID == "" || req.Content == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("user_id and content are required"))
		return
	}
	res, err := h.deps.Memory.StoreCandidate(c.Request.Context(), req.UserID, req.Content, req.Confidence)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- drive ---

func (h *handlers) driveGet(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("user_id is required"))
		return
	}
	c.JSON(http.StatusOK, h.deps.Drive.Get(userID))
}

func (h *handlers) driveUpdate(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("user_id is required"))
		return
	}
	var req struct {
		Delta  map[string]float64 `json:"delta"`
		Reason string             `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	state, err := h.deps.Drive.Update(userID, req.Delta)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) drivePolicy(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("user_id is required"))
		return
	}
	c.JSON(http.StatusOK, h.deps.Drive.StylePolicy(userID))
}

// --- policy guardrails ---

func (h *handlers) policyApply(c *gin.Context) {
	var req struct {
		Lane   string        `json:"lane"`
		System string        `json:"system"`
		User   string        `json:"user"`
		Affect policy.Affect `json:"affect"`
		Drive  policy.Drive  `json:"drive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	applied, err := h.deps.Policy.Apply(req.Lane, req.Affect, req.Drive)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, applied)
}

func (h *handlers) policyValidate(c *gin.Context) {
	var req struct {
		Lane string `json:"lane"`
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	validated, err := h.deps.Policy.Validate(req.Lane, req.Text)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, validated)
}

// --- telemetry + cache ---

func (h *handlers) telemetryLog(c *gin.Context) {
	var req struct {
		Event   string                 `json:"event"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	res, err := h.deps.Telemetry.Log(req.Event, req.Payload)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) cacheGet(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		writeEngineError(c, apperrors.NewInvalidRequestError("key is required"))
		return
	}
	entry, err := h.deps.Telemetry.CacheGet(c.Request.Context(), key)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *handlers) cacheSet(c *gin.Context) {
	var req struct {
		Key  string      `json:"key"`
		Data interface{} `json:"data"`
		TTL  int         `json:"ttl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	stored, err := h.deps.Telemetry.CacheSet(c.Request.Context(), req.Key, req.Data, time.Duration(req.TTL)*time.Second)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func writeEngineError(c *gin.Context, err error) {
	c.JSON(apperrors.StatusOf(err), gin.H{"error": err.Error()})
}
