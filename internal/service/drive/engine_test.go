package drive

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

// deterministicEngine disables the random walk and pins the clock.
func deterministicEngine(start time.Time) (*Engine, *time.Time) {
	current := start
	e := NewEngine(zap.NewNop())
	e.now = func() time.Time { return current }
	e.walk = func() float64 { return 0 }
	return e, &current
}

func TestGetCreatesBaselineState(t *testing.T) {
	e, _ := deterministicEngine(time.Unix(1000, 0))
	s := e.Get("u1")

	for _, v := range []float64{s.Energy, s.Sociability, s.Curiosity, s.EmpathyReserve, s.NoveltySeek} {
		if v != Baseline {
			t.Fatalf("new state not at baseline: %+v", s)
		}
	}
}

func TestUpdateClamps(t *testing.T) {
	e, _ := deterministicEngine(time.Unix(1000, 0))

	s, err := e.Update("u1", map[string]float64{"energy": 5.0, "curiosity": -5.0})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if s.Energy != 1.0 {
		t.Fatalf("energy not clamped high: %v", s.Energy)
	}
	if s.Curiosity != 0.0 {
		t.Fatalf("curiosity not clamped low: %v", s.Curiosity)
	}
}

func TestUpdateRejectsUnknownDrive(t *testing.T) {
	e, _ := deterministicEngine(time.Unix(1000, 0))
	if _, err := e.Update("u1", map[string]float64{"hunger": 0.1}); err == nil {
		t.Fatal("unknown drive must be rejected")
	}
}

func TestDecayMovesTowardBaseline(t *testing.T) {
	e, clock := deterministicEngine(time.Unix(1000, 0))

	s, err := e.Update("u1", map[string]float64{"energy": 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if s.Energy != 0.9 {
		t.Fatalf("energy after update = %v", s.Energy)
	}

	// 10 seconds → decay factor 0.1; 0.9 + (0.5-0.9)*0.1 = 0.86.
	*clock = clock.Add(10 * time.Second)
	s = e.Get("u1")
	if math.Abs(s.Energy-0.86) > 1e-9 {
		t.Fatalf("energy after decay = %v, want 0.86", s.Energy)
	}

	// Long enough elapsed time saturates the factor at 1: full snap to baseline.
	*clock = clock.Add(24 * time.Hour)
	s = e.Get("u1")
	if math.Abs(s.Energy-Baseline) > 1e-9 {
		t.Fatalf("energy after saturation = %v", s.Energy)
	}
}

func TestRandomWalkStaysBounded(t *testing.T) {
	e := NewEngine(zap.NewNop())
	for i := 0; i < 200; i++ {
		s := e.Get("u1")
		for _, v := range []float64{s.Energy, s.Sociability, s.Curiosity, s.EmpathyReserve, s.NoveltySeek} {
			if v < 0 || v > 1 {
				t.Fatalf("drive escaped [0,1]: %+v", s)
			}
		}
	}
}

func TestCategorizeThresholds(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0.0, "very_low"},
		{0.24, "very_low"},
		{0.25, "low"},
		{0.39, "low"},
		{0.4, "moderate"},
		{0.59, "moderate"},
		{0.6, "high"},
		{0.74, "high"},
		{0.75, "very_high"},
		{1.0, "very_high"},
	}
	for _, tt := range tests {
		if got := Categorize(tt.value); got != tt.want {
			t.Fatalf("Categorize(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestStylePolicy(t *testing.T) {
	e, _ := deterministicEngine(time.Unix(1000, 0))

	// Balanced state yields the single neutral hint.
	p := e.StylePolicy("u1")
	if len(p.StyleHints) != 1 || p.StyleHints[0] != "Maintain balanced, neutral communication style" {
		t.Fatalf("hints = %v", p.StyleHints)
	}
	if p.EnergyLevel != "moderate" {
		t.Fatalf("energy level = %q", p.EnergyLevel)
	}

	// Extremes produce their hints.
	if _, err := e.Update("u2", map[string]float64{"energy": -0.3, "curiosity": 0.4}); err != nil {
		t.Fatal(err)
	}
	p = e.StylePolicy("u2")
	if !hintPresent(p.StyleHints, "Keep responses brief and focused") {
		t.Fatalf("low-energy hint missing: %v", p.StyleHints)
	}
	if !hintPresent(p.StyleHints, "Include interesting facts and connections") {
		t.Fatalf("high-curiosity hint missing: %v", p.StyleHints)
	}
}

func TestFocusDerivation(t *testing.T) {
	s := State{Curiosity: 0.8, EmpathyReserve: 1.0}
	if got := s.Focus(); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("Focus() = %v, want 0.8", got)
	}

	// Depleted empathy halves the curiosity contribution.
	s = State{Curiosity: 0.8, EmpathyReserve: 0.0}
	if got := s.Focus(); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("Focus() = %v, want 0.4", got)
	}
}

func hintPresent(hints []string, want string) bool {
	for _, h := range hints {
		if h == want {
			return true
		}
	}
	return false
}
