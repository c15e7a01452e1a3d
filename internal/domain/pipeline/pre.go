package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/domain/chat"
	"github.com/halcyonai/halcyon/gateway/internal/service/drive"
	"github.com/halcyonai/halcyon/gateway/internal/service/intent"
	"github.com/halcyonai/halcyon/gateway/internal/service/policy"
)

// pre runs the fault-tolerant enrichment stage. Every failure is recovered
// with a default; nothing here aborts the request.
func (p *Pipeline) pre(ctx context.Context, pctx *Context) {
	userText := chat.LastUserText(pctx.Messages)

	p.classifyIntent(ctx, pctx, userText)

	if escalate(userText) {
		pctx.Intent.NeedsRemote = true
	}

	if p.vision != nil && (chat.AnyImage(pctx.Messages) || chat.AnyAudio(pctx.Messages)) {
		vctx, cancel := context.WithTimeout(ctx, visionTimeout)
		obs, err := p.vision.Observe(vctx, pctx.Messages)
		cancel()
		if err != nil {
			p.enrichmentFailed(pctx, "vision", err)
		} else {
			pctx.VisionObs = strings.TrimSpace(obs)
		}
	}

	p.fanOut(ctx, pctx, userText)

	pctx.Lane = laneFor(pctx.family())
	p.applyPolicy(ctx, pctx)
}

// classifyIntent resolves family, remote gate and routing metadata, with the
// open-ended default on failure.
func (p *Pipeline) classifyIntent(ctx context.Context, pctx *Context, userText string) {
	ictx, cancel := context.WithTimeout(ctx, intentTimeout)
	defer cancel()

	cls, err := p.intent.Classify(ictx, intent.ClassifyRequest{
		Text:        userText,
		Attachments: attachmentsOf(pctx.Messages),
	})
	if err != nil {
		p.enrichmentFailed(pctx, "intent", err)
		cls = &intent.Classification{Intent: "general"}
	}
	pctx.Intent = cls

	route, err := p.intent.Route(ictx, userText)
	if err != nil {
		p.enrichmentFailed(pctx, "intent-route", err)
		route = &intent.Route{
			Family:            "OPEN_ENDED",
			EmotionTemplateID: "stakes",
			Provider:          "local",
		}
	}
	pctx.Route = route
}

// fanOut runs the four enrichment branches in parallel and joins them all.
// Each branch writes its own Context fields; the join makes them visible.
func (p *Pipeline) fanOut(ctx context.Context, pctx *Context, userText string) {
	var wg sync.WaitGroup

	p.branch(ctx, &wg, pctx, "memory-retrieve", func(bctx context.Context) error {
		res, err := p.memory.Retrieve(bctx, pctx.UserID, userText, 3, 0)
		if err != nil {
			return err
		}
		for _, ep := range res.Episodes {
			if ep.Summary != "" {
				pctx.Episodes = append(pctx.Episodes, ep.Summary)
			}
		}
		return nil
	})

	p.branch(ctx, &wg, pctx, "memory-summary", func(bctx context.Context) error {
		res, err := p.memory.Summary(bctx, pctx.UserID)
		if err != nil {
			return err
		}
		pctx.MemorySummary = res.Summary
		return nil
	})

	p.branch(ctx, &wg, pctx, "affect-tone", func(bctx context.Context) error {
		affect, err := p.feeling.Analyze(bctx, userText)
		if err != nil {
			return err
		}
		pctx.Affect = affect

		tone, err := p.feeling.Tone(bctx, userText, "general")
		if err != nil {
			return err
		}
		pctx.Tone = tone
		return nil
	})

	p.branch(ctx, &wg, pctx, "drive-policy", func(bctx context.Context) error {
		state, err := p.drive.State(bctx, pctx.UserID)
		if err != nil {
			return err
		}
		pctx.Energy = state.Energy

		pol, err := p.drive.StylePolicy(bctx, pctx.UserID)
		if err != nil {
			return err
		}
		pctx.Drive = pol
		return nil
	})

	wg.Wait()
}

// branch runs one fan-out step with its own timeout and panic isolation.
func (p *Pipeline) branch(ctx context.Context, wg *sync.WaitGroup, pctx *Context, name string, fn func(ctx context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Enrichment branch panicked",
					zap.String("branch", name),
					zap.Any("panic", r),
				)
				p.monitor.IncEnrichmentFailure()
			}
		}()

		bctx, cancel := context.WithTimeout(ctx, enrichTimeout)
		defer cancel()
		if err := fn(bctx); err != nil {
			p.enrichmentFailed(pctx, name, err)
		}
	}()
}

// applyPolicy calls guardrails apply and assembles the system addenda in
// their fixed order.
func (p *Pipeline) applyPolicy(ctx context.Context, pctx *Context) {
	pcctx, cancel := context.WithTimeout(ctx, policyTimeout)
	applied, err := p.policy.Apply(pcctx, pctx.Lane, policyAffect(pctx), policyDrive(pctx))
	cancel()

	systemFinal := ""
	if err != nil {
		p.enrichmentFailed(pctx, "policy-apply", err)
	} else {
		systemFinal = applied.SystemFinal
		pctx.Validators = applied.Validators
	}

	base := p.cfg.BaseSystem
	if pctx.Route != nil && pctx.Route.EmotionTemplateID != "" {
		actx, acancel := context.WithTimeout(ctx, policyTimeout)
		augmented, aerr := p.feeling.Augment(actx, base, pctx.Route.EmotionTemplateID)
		acancel()
		if aerr != nil {
			p.enrichmentFailed(pctx, "augment", aerr)
		} else if augmented != "" {
			base = augmented
		}
	}

	var addenda []string
	if systemFinal != "" {
		addenda = append(addenda, systemFinal)
	}
	if base != "" {
		addenda = append(addenda, base)
	}
	if pctx.MemorySummary != "" {
		addenda = append(addenda, "[MEMORY SUMMARY]\n"+pctx.MemorySummary)
	}
	if len(pctx.Episodes) > 0 {
		addenda = append(addenda, "[RELEVANT EPISODES]\n"+strings.Join(pctx.Episodes, "\n"))
	}
	if pctx.Affect != nil {
		if data, err := json.Marshal(pctx.Affect); err == nil {
			addenda = append(addenda, "[AFFECT] "+string(data))
		}
	}
	if pctx.Tone != nil && len(pctx.Tone.TonePolicies) > 0 {
		addenda = append(addenda, "[TONE_POLICY] "+strings.Join(pctx.Tone.TonePolicies, ", "))
	}
	if pctx.Drive != nil {
		if data, err := json.Marshal(pctx.Drive); err == nil {
			addenda = append(addenda, "[DRIVE_HINTS] "+string(data))
		}
	}
	if pctx.VisionObs != "" {
		addenda = append(addenda, "[VISION_OBS]\n"+pctx.VisionObs)
	}
	pctx.SystemAddenda = addenda
}

// policyAffect maps the affect record to the guardrails input, neutral when
// the branch defaulted.
func policyAffect(pctx *Context) policy.Affect {
	if pctx.Affect == nil {
		return policy.Affect{Emotion: "neutral", Intensity: 0.5}
	}
	emotion := pctx.Affect.Sentiment
	if len(pctx.Affect.Emotions) > 0 {
		emotion = pctx.Affect.Emotions[0]
	}
	return policy.Affect{Emotion: emotion, Intensity: pctx.Affect.Confidence}
}

func policyDrive(pctx *Context) policy.Drive {
	focus := drive.Baseline
	if pctx.Drive != nil {
		focus = pctx.Drive.Focus
	}
	return policy.Drive{Energy: pctx.Energy, Focus: focus}
}

// laneFor maps intent families onto guardrail lanes.
func laneFor(family string) string {
	switch family {
	case "TECH":
		return "technical"
	case "PSYCHOTHERAPY":
		return "emotional"
	case "OPEN_ENDED":
		return "creative"
	case "LEGAL", "REGULATED", "GENERAL_PRECISION":
		return "analytical"
	default:
		return "technical"
	}
}

// attachmentsOf lifts multimodal content parts into classify attachments.
func attachmentsOf(messages []chat.Message) []intent.Attachment {
	var atts []intent.Attachment
	for _, m := range messages {
		for _, part := range m.Parts {
			switch {
			case part.Type == "image_url":
				atts = append(atts, intent.Attachment{Type: "image", URL: part.ImageURL})
			case part.Type == "audio" || part.AudioURL != "":
				atts = append(atts, intent.Attachment{Type: "audio", URL: part.AudioURL})
			}
		}
	}
	return atts
}

// Remote-escalation heuristic: code-looking or long or explicitly upscaled
// requests are marked for the remote tier.
const escalationLength = 350

var (
	codeKeywordRx = regexp.MustCompile(`(?i)\b(def|class|import|async def|public static)\b|#include`)
	complexityRx  = regexp.MustCompile(`(?i)\b(optimize|refactor|algorithm|complexity|asyncio|deadlock|thread|socket|performance|vectorize)\b`)
)

var upscaleSignals = []string{"gpt-4", "larger model", "highest quality", "best model"}

func escalate(text string) bool {
	if strings.Contains(text, "```") {
		return true
	}
	if codeKeywordRx.MatchString(text) || complexityRx.MatchString(text) {
		return true
	}
	if len(text) >= escalationLength {
		return true
	}
	lower := strings.ToLower(text)
	for _, signal := range upscaleSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}
