package redisstore

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask(map[string]interface{}{"type": "memory_candidate"}, 2)
	if task.ID == "" {
		t.Fatal("task needs an id")
	}
	if task.Depth != 2 {
		t.Fatalf("depth = %d", task.Depth)
	}
	if task.Retries != 0 {
		t.Fatalf("retries = %d", task.Retries)
	}
	if task.EnqueuedAt == 0 {
		t.Fatal("enqueued_at not set")
	}
}

func TestDepthExceeded(t *testing.T) {
	q := NewQueue(nil, 3, 4, time.Minute, zap.NewNop())

	if q.DepthExceeded(4) {
		t.Fatal("depth at the limit must be accepted")
	}
	if !q.DepthExceeded(5) {
		t.Fatal("depth past the limit must dead-letter")
	}
}

func TestQueueDefaults(t *testing.T) {
	q := NewQueue(nil, 0, 0, 0, zap.NewNop())

	if q.maxRetries != 3 || q.maxDepth != 4 {
		t.Fatalf("defaults = %d/%d", q.maxRetries, q.maxDepth)
	}
}
