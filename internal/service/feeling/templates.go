package feeling

import "strings"

// Template is an emotion augmentation applied to a system prompt.
type Template struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	SystemSuffix string `json:"system_suffix"`
}

// Augmented is the result of /augment.
type Augmented struct {
	SystemPrompt  string `json:"system_prompt"`
	TemplateID    string `json:"template_id"`
	TemplateLabel string `json:"template_label"`
}

// TemplateRegistry holds the emotion templates in a stable order.
type TemplateRegistry struct {
	order []string
	byID  map[string]Template
}

// NewTemplateRegistry builds the registry with the built-in templates.
// "none" always exists and carries an empty suffix.
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{byID: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:           "none",
			Label:        "No emotional augmentation",
			SystemSuffix: "",
		},
		{
			ID:    "empathy_therapist",
			Label: "Empathetic therapist",
			SystemSuffix: "Respond with warmth and without judgment. Acknowledge the " +
				"user's feelings before offering perspective, ask gentle clarifying " +
				"questions, and never diagnose or prescribe.",
		},
		{
			ID:    "self_monitor",
			Label: "Self-monitoring precision",
			SystemSuffix: "State your confidence in each claim. Show intermediate steps, " +
				"flag assumptions explicitly, and say so plainly when you are unsure.",
		},
		{
			ID:    "stakes",
			Label: "Stakes awareness",
			SystemSuffix: "Gauge what is at stake for the user before answering. Match " +
				"your depth and tone to the weight of the question.",
		},
	} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(t Template) {
	if _, exists := r.byID[t.ID]; !exists {
		r.order = append(r.order, t.ID)
	}
	r.byID[t.ID] = t
}

// Get resolves a template id, falling back to "none" for unknown ids.
func (r *TemplateRegistry) Get(id string) Template {
	if id == "" {
		id = "none"
	}
	if t, ok := r.byID[id]; ok {
		return t
	}
	return r.byID["none"]
}

// List returns all templates in registration order.
func (r *TemplateRegistry) List() []Template {
	out := make([]Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Augment appends the template's suffix to a system prompt, separated by a
// blank line. Templates with an empty suffix leave the prompt untouched.
func (e *Engine) Augment(systemPrompt, templateID string) Augmented {
	tpl := e.templates.Get(templateID)
	suffix := strings.TrimSpace(tpl.SystemSuffix)

	prompt := systemPrompt
	if suffix != "" {
		prompt = strings.TrimRight(systemPrompt, " \t\n") + "\n\n" + suffix
	}

	return Augmented{
		SystemPrompt:  prompt,
		TemplateID:    tpl.ID,
		TemplateLabel: tpl.Label,
	}
}
