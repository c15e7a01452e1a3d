package telemetry

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
)

func newTestEngine() *Engine {
	e := NewEngine(redisstore.NewLocalCache(), monitoring.NewMonitor(zap.NewNop()), zap.NewNop())
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	e.newID = func() string { return "evt-fixed" }
	return e
}

func TestRedactPayloadClasses(t *testing.T) {
	payload := map[string]interface{}{
		"email":   "reach me at jane.doe@example.com",
		"ssn":     "ssn is 123-45-6789",
		"card":    "4111-1111-1111-1111",
		"ip":      "from 10.0.0.1",
		"token":   "abcdef0123456789abcdef0123456789",
		"session": "sessabc123 started",
		"count":   float64(3),
	}

	redacted, fields, err := RedactPayload(payload)
	if err != nil {
		t.Fatalf("RedactPayload() error = %v", err)
	}

	want := map[string]string{
		"email":   "[REDACTED_EMAIL]",
		"ssn":     "[REDACTED_SSN]",
		"card":    "[REDACTED_CREDIT_CARD]",
		"ip":      "[REDACTED_IP_ADDRESS]",
		"token":   "[REDACTED_API_KEY]",
		"session": "[REDACTED_SESSION_ID]",
	}
	for field, value := range want {
		if redacted[field] != value {
			t.Errorf("%s = %v, want %s", field, redacted[field], value)
		}
	}
	if redacted["count"] != float64(3) {
		t.Errorf("non-string value changed: %v", redacted["count"])
	}

	wantFields := []string{"card", "email", "ip", "session", "ssn", "token"}
	if !reflect.DeepEqual(fields, wantFields) {
		t.Errorf("fields = %v, want %v", fields, wantFields)
	}
}

func TestRedactPayloadClassPrecedence(t *testing.T) {
	// Matches both the phone and ssn digit shapes; phone is checked first.
	redacted, _, err := RedactPayload(map[string]interface{}{
		"contact": "call 555-123-4567",
	})
	if err != nil {
		t.Fatal(err)
	}
	if redacted["contact"] != "[REDACTED_PHONE]" {
		t.Fatalf("contact = %v", redacted["contact"])
	}
}

func TestRedactPayloadNested(t *testing.T) {
	payload := map[string]interface{}{
		"users": []interface{}{
			map[string]interface{}{"contact": "a@b.io"},
			"user_42 logged in",
		},
		"meta": map[string]interface{}{"note": "nothing sensitive"},
	}

	redacted, fields, err := RedactPayload(payload)
	if err != nil {
		t.Fatal(err)
	}

	list := redacted["users"].([]interface{})
	inner := list[0].(map[string]interface{})
	if inner["contact"] != "[REDACTED_EMAIL]" {
		t.Fatalf("nested contact = %v", inner["contact"])
	}
	// The bare list element inherits the list's field name.
	if list[1] != "[REDACTED_USER_ID]" {
		t.Fatalf("list element = %v", list[1])
	}
	if !reflect.DeepEqual(fields, []string{"contact", "users"}) {
		t.Fatalf("fields = %v", fields)
	}

	meta := redacted["meta"].(map[string]interface{})
	if meta["note"] != "nothing sensitive" {
		t.Fatalf("clean value changed: %v", meta["note"])
	}
}

func TestRedactPayloadDoesNotMutateInput(t *testing.T) {
	payload := map[string]interface{}{"email": "jane@corp.example"}
	if _, _, err := RedactPayload(payload); err != nil {
		t.Fatal(err)
	}
	if payload["email"] != "jane@corp.example" {
		t.Fatalf("input mutated: %v", payload["email"])
	}
}

func TestLogAddsTimestamp(t *testing.T) {
	e := newTestEngine()

	result, err := e.Log("chat_turn", map[string]interface{}{"latency_ms": 12.0})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if result.Status != "logged" || result.EventID != "evt-fixed" {
		t.Fatalf("result = %+v", result)
	}
	if len(result.RedactedFields) != 0 {
		t.Fatalf("redacted fields = %v", result.RedactedFields)
	}
}

func TestLogKeepsCallerTimestamp(t *testing.T) {
	e := newTestEngine()

	result, err := e.Log("chat_turn", map[string]interface{}{
		"timestamp": "2024-01-01T00:00:00Z",
		"who":       "user_77",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.RedactedFields, []string{"who"}) {
		t.Fatalf("redacted fields = %v", result.RedactedFields)
	}
}

func TestLogRequiresEvent(t *testing.T) {
	e := newTestEngine()
	if _, err := e.Log("", nil); err == nil {
		t.Fatal("empty event must error")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	stored, err := e.CacheSet(ctx, "tool:weather:city:oslo", map[string]interface{}{"temp": 8}, 60*time.Second)
	if err != nil {
		t.Fatalf("CacheSet() error = %v", err)
	}
	if stored.Status != "cached" || stored.Key != "tool:weather:city:oslo" {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.ExpiresAt != "2025-06-01T12:01:00Z" {
		t.Fatalf("expires_at = %s", stored.ExpiresAt)
	}

	entry, err := e.CacheGet(ctx, "tool:weather:city:oslo")
	if err != nil {
		t.Fatalf("CacheGet() error = %v", err)
	}
	if !entry.Hit {
		t.Fatal("expected cache hit")
	}
	if entry.TTLRemaining <= 0 || entry.TTLRemaining > 60 {
		t.Fatalf("ttl_remaining = %v", entry.TTLRemaining)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(entry.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["temp"] != float64(8) {
		t.Fatalf("data = %v", data)
	}
}

func TestCacheMiss(t *testing.T) {
	e := newTestEngine()

	entry, err := e.CacheGet(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Hit || entry.Data != nil {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestCacheSetDefaultTTL(t *testing.T) {
	e := newTestEngine()

	stored, err := e.CacheSet(context.Background(), "k", "v", 0)
	if err != nil {
		t.Fatal(err)
	}
	// Default is 300s past the fixed clock.
	if stored.ExpiresAt != "2025-06-01T12:05:00Z" {
		t.Fatalf("expires_at = %s", stored.ExpiresAt)
	}
}

func TestCacheKeyRequired(t *testing.T) {
	e := newTestEngine()
	if _, err := e.CacheGet(context.Background(), ""); err == nil {
		t.Fatal("empty key must error on get")
	}
	if _, err := e.CacheSet(context.Background(), "", nil, 0); err == nil {
		t.Fatal("empty key must error on set")
	}
}

func TestNormalizedToolKeysAreCacheable(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	key1 := redisstore.NormalizeToolKey("search", map[string]interface{}{"q": "Go Modules", "limit": 5})
	key2 := redisstore.NormalizeToolKey("search", map[string]interface{}{"limit": 5.0, "q": "go modules"})
	if key1 != key2 {
		t.Fatalf("keys differ: %q vs %q", key1, key2)
	}
	if !strings.HasPrefix(key1, "tool:search:") {
		t.Fatalf("key = %q", key1)
	}

	if _, err := e.CacheSet(ctx, key1, []string{"r1"}, 0); err != nil {
		t.Fatal(err)
	}
	entry, err := e.CacheGet(ctx, key2)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.Hit {
		t.Fatal("normalized key must hit")
	}
}
