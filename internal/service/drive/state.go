package drive

// State holds the five user drives, each in [0,1].
type State struct {
	UserID         string  `json:"user_id"`
	Energy         float64 `json:"energy"`
	Sociability    float64 `json:"sociability"`
	Curiosity      float64 `json:"curiosity"`
	EmpathyReserve float64 `json:"empathy_reserve"`
	NoveltySeek    float64 `json:"novelty_seek"`
	Timestamp      float64 `json:"timestamp"`
}

// Baseline every drive starts at and decays toward.
const Baseline = 0.5

func newState(userID string, now float64) *State {
	return &State{
		UserID:         userID,
		Energy:         Baseline,
		Sociability:    Baseline,
		Curiosity:      Baseline,
		EmpathyReserve: Baseline,
		NoveltySeek:    Baseline,
		Timestamp:      now,
	}
}

// dims gives uniform access to the five drive values.
func (s *State) dims() []*float64 {
	return []*float64{&s.Energy, &s.Sociability, &s.Curiosity, &s.EmpathyReserve, &s.NoveltySeek}
}

func (s *State) clamp() {
	for _, d := range s.dims() {
		if *d < 0 {
			*d = 0
		}
		if *d > 1 {
			*d = 1
		}
	}
}

// Focus derives an attention score from curiosity, discounted by how
// depleted the empathy reserve is.
func (s *State) Focus() float64 {
	return s.Curiosity * (1 - (1-s.EmpathyReserve)/2)
}

// Categorize maps a drive value to a descriptive level.
func Categorize(value float64) string {
	switch {
	case value < 0.25:
		return "very_low"
	case value < 0.4:
		return "low"
	case value < 0.6:
		return "moderate"
	case value < 0.75:
		return "high"
	default:
		return "very_high"
	}
}

// styleHints returns response-style guidance for extreme drive values.
func (s *State) styleHints() []string {
	var hints []string

	if s.Energy < 0.3 {
		hints = append(hints, "Keep responses brief and focused")
	} else if s.Energy > 0.7 {
		hints = append(hints, "Provide detailed, energetic responses")
	}

	if s.Sociability < 0.3 {
		hints = append(hints, "Minimize social chit-chat")
	} else if s.Sociability > 0.7 {
		hints = append(hints, "Include friendly, conversational elements")
	}

	if s.Curiosity < 0.3 {
		hints = append(hints, "Stick to practical, direct information")
	} else if s.Curiosity > 0.7 {
		hints = append(hints, "Include interesting facts and connections")
	}

	if s.EmpathyReserve < 0.3 {
		hints = append(hints, "Focus on solutions over emotional support")
	} else if s.EmpathyReserve > 0.7 {
		hints = append(hints, "Show understanding and emotional awareness")
	}

	if s.NoveltySeek < 0.3 {
		hints = append(hints, "Use familiar, established approaches")
	} else if s.NoveltySeek > 0.7 {
		hints = append(hints, "Introduce novel ideas and perspectives")
	}

	if len(hints) == 0 {
		hints = []string{"Maintain balanced, neutral communication style"}
	}
	return hints
}
