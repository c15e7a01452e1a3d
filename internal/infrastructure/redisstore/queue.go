package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKey = "halcyon:tasks"
	dlqKey   = "halcyon:tasks:dlq"
)

// Task is one queue entry. Depth bounds runaway task recursion; retries
// count handler failures.
type Task struct {
	ID         string                 `json:"id"`
	Payload    map[string]interface{} `json:"payload"`
	Retries    int                    `json:"retries"`
	Depth      int                    `json:"depth"`
	VisibleAt  int64                  `json:"visible_at"`
	EnqueuedAt int64                  `json:"enqueued_at"`
}

// DLQEntry is a dead-lettered task with its reason.
type DLQEntry struct {
	Task   Task   `json:"task"`
	Reason string `json:"reason"`
	At     int64  `json:"at"`
}

// ErrQueueEmpty is returned by Dequeue when no task is ready.
var ErrQueueEmpty = errors.New("queue empty")

// Queue is a Redis-list FIFO task queue with a dead-letter queue.
// LPUSH enqueues, RPOP dequeues; visibility is extended at dequeue time so a
// crashed handler leads to redelivery, which makes duplicate execution
// possible — handlers must be idempotent.
type Queue struct {
	client     *redis.Client
	maxRetries int
	maxDepth   int
	visibility time.Duration
	logger     *zap.Logger
}

// NewQueue creates the task queue.
func NewQueue(client *redis.Client, maxRetries, maxDepth int, visibility time.Duration, logger *zap.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if maxDepth <= 0 {
		maxDepth = 4
	}
	if visibility <= 0 {
		visibility = 120 * time.Second
	}
	return &Queue{
		client:     client,
		maxRetries: maxRetries,
		maxDepth:   maxDepth,
		visibility: visibility,
		logger:     logger.With(zap.String("component", "task-queue")),
	}
}

// NewTask builds a task with a fresh id at the given depth.
func NewTask(payload map[string]interface{}, depth int) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Payload:    payload,
		Depth:      depth,
		EnqueuedAt: time.Now().Unix(),
	}
}

// DepthExceeded reports whether a task at this depth must go straight to the
// DLQ instead of the queue.
func (q *Queue) DepthExceeded(depth int) bool {
	return depth > q.maxDepth
}

// RetriesExceeded reports whether a task has burned through its retries.
func (q *Queue) RetriesExceeded(retries int) bool {
	return retries > q.maxRetries
}

// Enqueue pushes a task. A task spawned beyond the depth bound dead-letters
// immediately with reason "depth_exceeded".
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	if q.DepthExceeded(task.Depth) {
		return q.DeadLetter(ctx, task, "depth_exceeded")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue pops the oldest ready task and extends its visibility window.
// A task whose retries are exhausted dead-letters with "retries_exceeded"
// and the next task is tried.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		data, err := q.client.RPop(ctx, queueKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue task: %w", err)
		}

		var task Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			q.logger.Warn("Dropping unparseable task", zap.Error(err))
			continue
		}

		if task.VisibleAt > time.Now().Unix() {
			// Not ready yet — push back to the head and report empty.
			_ = q.client.RPush(ctx, queueKey, data).Err()
			return nil, ErrQueueEmpty
		}

		if q.RetriesExceeded(task.Retries) {
			if err := q.DeadLetter(ctx, &task, "retries_exceeded"); err != nil {
				return nil, err
			}
			continue
		}

		task.VisibleAt = time.Now().Add(q.visibility).Unix()
		return &task, nil
	}
}

// Fail re-enqueues a task after a handler error with retries incremented.
// Depth never decreases across requeues.
func (q *Queue) Fail(ctx context.Context, task *Task) error {
	task.Retries++
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return nil
}

// DeadLetter records a task in the DLQ with a reason.
func (q *Queue) DeadLetter(ctx context.Context, task *Task, reason string) error {
	entry := DLQEntry{Task: *task, Reason: reason, At: time.Now().Unix()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	if err := q.client.LPush(ctx, dlqKey, data).Err(); err != nil {
		return fmt.Errorf("dead-letter task: %w", err)
	}
	q.logger.Warn("Task dead-lettered",
		zap.String("task_id", task.ID),
		zap.String("reason", reason),
		zap.Int("retries", task.Retries),
		zap.Int("depth", task.Depth),
	)
	return nil
}

// DLQEntries returns up to limit newest dead-letter entries.
func (q *Queue) DLQEntries(ctx context.Context, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.client.LRange(ctx, dlqKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}

	entries := make([]DLQEntry, 0, len(rows))
	for _, row := range rows {
		var entry DLQEntry
		if err := json.Unmarshal([]byte(row), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TaskHandler processes one dequeued task.
type TaskHandler func(ctx context.Context, task *Task) error

// Worker polls the queue and dispatches tasks to a handler.
type Worker struct {
	queue    *Queue
	handler  TaskHandler
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
}

// NewWorker creates a queue worker.
func NewWorker(queue *Queue, handler TaskHandler, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    queue,
		handler:  handler,
		interval: time.Second,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger.With(zap.String("component", "task-worker")),
	}
}

// Start runs the poll loop until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneCh)
	w.logger.Info("Task worker started")

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Task worker stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx)
		if errors.Is(err, ErrQueueEmpty) {
			select {
			case <-w.stopCh:
				w.logger.Info("Task worker stopped")
				return
			case <-time.After(w.interval):
			}
			continue
		}
		if err != nil {
			w.logger.Warn("Dequeue failed", zap.Error(err))
			time.Sleep(w.interval)
			continue
		}

		if err := w.handler(ctx, task); err != nil {
			w.logger.Warn("Task handler failed, requeueing",
				zap.String("task_id", task.ID),
				zap.Int("retries", task.Retries),
				zap.Error(err),
			)
			if ferr := w.queue.Fail(ctx, task); ferr != nil {
				w.logger.Error("Requeue failed", zap.Error(ferr))
			}
		}
	}
}

// Stop signals the worker and waits for the in-flight task to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}
