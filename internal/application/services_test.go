package application

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/service/feeling"
)

func TestLocalFeelingCritiqueHonorsCallerCap(t *testing.T) {
	adapter := &localFeeling{engine: feeling.NewEngine(zap.NewNop())}

	words := make([]string, 150)
	for i := range words {
		words[i] = "word" + strconv.Itoa(i)
	}
	draft := strings.Join(words, " ")

	cleaned, err := adapter.Critique(context.Background(), draft, len(words))
	if err != nil {
		t.Fatalf("Critique() error = %v", err)
	}
	if got := len(strings.Fields(cleaned)); got != len(words) {
		t.Fatalf("cleaned words = %d, want %d", got, len(words))
	}
}
