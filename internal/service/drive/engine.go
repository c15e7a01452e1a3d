package drive

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// Simulation parameters.
const (
	baselineDecayRate = 0.001
	randomWalkStep    = 0.02
)

// driveNames are the accepted delta keys of /drive/update.
var driveNames = map[string]bool{
	"energy":          true,
	"sociability":     true,
	"curiosity":       true,
	"empathy_reserve": true,
	"novelty_seek":    true,
}

// Policy is the /drive/policy payload.
type Policy struct {
	EnergyLevel       string   `json:"energy_level"`
	SocialStyle       string   `json:"social_style"`
	CuriosityLevel    string   `json:"curiosity_level"`
	EmpathyApproach   string   `json:"empathy_approach"`
	NoveltyPreference string   `json:"novelty_preference"`
	StyleHints        []string `json:"style_hints"`
	Focus             float64  `json:"focus"`
}

// Engine keeps per-user drive states and runs the mood simulation: decay
// toward baseline proportional to elapsed time, a bounded random walk on
// every read, and clamped delta updates.
type Engine struct {
	mu     sync.Mutex
	states map[string]*State
	logger *zap.Logger

	// Injectable for deterministic tests.
	now  func() time.Time
	walk func() float64
}

// NewEngine creates the drive engine.
func NewEngine(logger *zap.Logger) *Engine {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Engine{
		states: make(map[string]*State),
		logger: logger,
		now:    time.Now,
		walk: func() float64 {
			return (rng.Float64()*2 - 1) * randomWalkStep
		},
	}
}

// Get returns the user's current state after decay and random walk.
// States are created lazily at baseline.
func (e *Engine) Get(userID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.refresh(userID)
}

// Update applies deltas to the user's state and clamps.
func (e *Engine) Update(userID string, deltas map[string]float64) (State, error) {
	for name := range deltas {
		if !driveNames[name] {
			return State{}, apperrors.NewInvalidRequestError(fmt.Sprintf("invalid drive: %s", name))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.refresh(userID)
	state.Energy += deltas["energy"]
	state.Sociability += deltas["sociability"]
	state.Curiosity += deltas["curiosity"]
	state.EmpathyReserve += deltas["empathy_reserve"]
	state.NoveltySeek += deltas["novelty_seek"]
	state.clamp()
	state.Timestamp = float64(e.now().UnixNano()) / float64(time.Second)

	return *state, nil
}

// StylePolicy categorizes the current state and derives style hints.
func (e *Engine) StylePolicy(userID string) Policy {
	state := e.Get(userID)
	return Policy{
		EnergyLevel:       Categorize(state.Energy),
		SocialStyle:       Categorize(state.Sociability),
		CuriosityLevel:    Categorize(state.Curiosity),
		EmpathyApproach:   Categorize(state.EmpathyReserve),
		NoveltyPreference: Categorize(state.NoveltySeek),
		StyleHints:        state.styleHints(),
		Focus:             state.Focus(),
	}
}

// refresh applies time decay and the random walk. Caller holds the lock.
func (e *Engine) refresh(userID string) *State {
	now := float64(e.now().UnixNano()) / float64(time.Second)

	state, ok := e.states[userID]
	if !ok {
		state = newState(userID, now)
		e.states[userID] = state
	}

	if elapsed := now - state.Timestamp; elapsed > 0 {
		decay := elapsed * baselineDecayRate * 10
		if decay > 1 {
			decay = 1
		}
		for _, d := range state.dims() {
			*d += (Baseline - *d) * decay
		}
	}

	for _, d := range state.dims() {
		*d += e.walk()
	}
	state.clamp()
	state.Timestamp = now

	return state
}
