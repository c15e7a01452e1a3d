package policy

// Lane bundles a system-prompt template, a response schema, the filter list
// and length bounds for one response style.
type Lane struct {
	Name         string
	Template     string
	Schema       map[string]interface{}
	Filters      []string
	MaxLength    int
	MaxSentences int
}

const defaultMaxLength = 2000

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func stringArrayProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

func laneConfigs() map[string]*Lane {
	return map[string]*Lane{
		"technical": {
			Name: "technical",
			Template: `You are a technical assistant. Follow these guidelines:

1. Provide accurate, well-structured technical information
2. Include code examples when relevant
3. Explain concepts clearly and concisely
4. Follow security best practices
5. Use proper formatting for code and data structures

Response must conform to this JSON schema:
{schema}

Current context:
- User affect: {emotion} (intensity: {intensity})
- Drive state: Energy {energy}, Focus {focus}`,
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"explanation":    stringProp("Clear explanation of the technical concept"),
					"code":           stringProp("Code example if applicable"),
					"best_practices": stringArrayProp("List of best practices"),
					"security_notes": stringArrayProp("Security considerations"),
				},
				"required": []interface{}{"explanation"},
			},
			Filters:   []string{"security", "syntax", "imports"},
			MaxLength: 2000,
		},
		"emotional": {
			Name: "emotional",
			Template: `You are an empathetic assistant providing
emotional support.

Guidelines:
1. Show genuine empathy and understanding
2. Keep responses to 3-5 sentences
3. Use warm, supportive language
4. Validate feelings without judgment
5. Offer gentle guidance when appropriate

Current emotional context:
- User affect: {emotion} (intensity: {intensity})
- Drive state: Energy {energy}, Focus {focus}`,
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"acknowledgment": stringProp("Acknowledgment of user's feelings"),
					"support":        stringProp("Supportive message"),
					"guidance":       stringProp("Gentle guidance if appropriate"),
				},
				"additionalProperties": false,
			},
			Filters:      []string{"length", "tone", "appropriateness"},
			MaxSentences: 5,
		},
		"creative": {
			Name: "creative",
			Template: `You are a creative assistant for writing and ideation.

Guidelines:
1. Encourage original and imaginative thinking
2. Provide engaging and compelling content
3. Maintain narrative coherence and flow
4. Use descriptive and vivid language
5. Adapt to the user's creative goals

Current context:
- User affect: {emotion} (intensity: {intensity})
- Drive state: Energy {energy}, Focus {focus}`,
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"concept":     stringProp("Main creative concept or idea"),
					"development": stringProp("Further development of the concept"),
					"elements":    stringArrayProp("Key creative elements"),
				},
				"required": []interface{}{"concept"},
			},
			Filters:   []string{"originality", "coherence", "engagement"},
			MaxLength: 1500,
		},
		"analytical": {
			Name: "analytical",
			Template: `You are an analytical assistant for reasoning
and problem-solving.

Guidelines:
1. Break down complex problems systematically
2. Provide evidence-based analysis
3. Consider multiple perspectives
4. Draw logical conclusions
5. Present findings clearly and objectively

Current context:
- User affect: {emotion} (intensity: {intensity})
- Drive state: Energy {energy}, Focus {focus}`,
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"analysis":     stringProp("Step-by-step analysis"),
					"evidence":     stringArrayProp("Supporting evidence"),
					"conclusion":   stringProp("Logical conclusion"),
					"alternatives": stringArrayProp("Alternative considerations"),
				},
				"required": []interface{}{"analysis", "conclusion"},
			},
			Filters:   []string{"logic", "evidence", "objectivity"},
			MaxLength: 1800,
		},
	}
}
