package feeling

// Keyword lexicons for the rule-based analyzers. Kept small on purpose:
// the engine promises sub-millisecond CPU inference, not NLP accuracy.

var positiveWords = wordSet(
	"good", "great", "excellent", "amazing", "wonderful", "fantastic",
	"love", "like", "happy", "joy", "pleased", "satisfied", "awesome",
	"perfect", "brilliant", "outstanding", "superb", "terrific",
)

var negativeWords = wordSet(
	"bad", "terrible", "awful", "horrible", "hate", "dislike", "sad",
	"angry", "frustrated", "annoyed", "disappointed", "upset", "worried",
	"scared", "afraid", "dreadful", "pathetic", "useless",
)

// intensifiers multiply the weight of the following sentiment word.
var intensifiers = wordSet("very", "really", "extremely", "so", "too", "quite")

const intensifierMultiplier = 1.5

var emotionPatterns = []struct {
	emotion  string
	keywords []string
}{
	{"joy", []string{"happy", "excited", "delighted", "thrilled", "joyful", "cheerful", "glad"}},
	{"sadness", []string{"sad", "unhappy", "depressed", "sorrow", "grief", "melancholy", "blue"}},
	{"anger", []string{"angry", "mad", "furious", "irritated", "annoyed", "frustrated", "rage"}},
	{"fear", []string{"scared", "afraid", "terrified", "anxious", "worried", "frightened", "panic"}},
	{"surprise", []string{"surprised", "shocked", "amazed", "astonished", "startled", "unexpected"}},
	{"disgust", []string{"disgusted", "repulsed", "gross", "sick", "nauseous", "revolted"}},
}

// Dialog act patterns, checked in order; first hit wins.
var dialogActPatterns = []struct {
	act      string
	patterns []string
}{
	{"question", []string{`\?$`, `what`, `how`, `why`, `when`, `where`, `who`, `which`}},
	{"statement", []string{`\.$`, `is`, `are`, `was`, `were`, `has`, `have`}},
	{"command", []string{`^please`, `can you`, `would you`, `could you`, `do this`, `make`}},
	{"exclamation", []string{`!$`, `wow`, `oh`, `ah`, `yeah`, `yes`}},
	{"acknowledgment", []string{`i see`, `okay`, `alright`, `got it`, `understood`, `agreed`}},
}

var urgentWords = []string{
	"urgent", "emergency", "asap", "immediately", "right now", "quickly",
	"critical", "important", "deadline", "rush", "hurry", "fast",
}

var lowUrgencyWords = []string{
	"whenever", "sometime", "eventually", "later", "no rush", "take your time",
}

var formalIndicators = []string{"professional", "formal", "business", "corporate", "academic"}
var casualIndicators = []string{"casual", "friendly", "relaxed", "informal", "chatty"}
var emotionalIndicators = []string{"emotional", "passionate", "excited", "enthusiastic"}

var fillerWords = []string{"um", "uh", "like", "you know", "sort of", "kind of", "basically", "actually"}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
