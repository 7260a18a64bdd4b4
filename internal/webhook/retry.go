package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FetchTask is one deferred signed-document fetch. Enqueued when the fetch
// fails after a durable completed transition; the transition itself is never
// rolled back.
type FetchTask struct {
	EnvelopeID         uuid.UUID `json:"envelope_id"`
	ProviderEnvelopeID string    `json:"provider_envelope_id"`
	Attempts           int       `json:"attempts"`
}

// RetryQueue holds fetch tasks for out-of-band retry.
type RetryQueue interface {
	Enqueue(ctx context.Context, task FetchTask) error
	// Dequeue pops one task, reporting ok=false when the queue is empty.
	Dequeue(ctx context.Context) (FetchTask, bool, error)
}

const redisRetryKey = "signetry:signed-doc-retries"

// RedisQueue is a RetryQueue backed by a Redis list, so queued fetches
// survive process restarts.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task FetchTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("webhook: marshal retry task: %w", err)
	}
	if err := q.client.LPush(ctx, redisRetryKey, payload).Err(); err != nil {
		return fmt.Errorf("webhook: enqueue retry task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (FetchTask, bool, error) {
	payload, err := q.client.RPop(ctx, redisRetryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return FetchTask{}, false, nil
	}
	if err != nil {
		return FetchTask{}, false, fmt.Errorf("webhook: dequeue retry task: %w", err)
	}
	var task FetchTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return FetchTask{}, false, fmt.Errorf("webhook: decode retry task: %w", err)
	}
	return task, true, nil
}

// MemoryQueue is an in-process RetryQueue for tests and single-node runs
// without Redis.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []FetchTask
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task FetchTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *MemoryQueue) Dequeue(context.Context) (FetchTask, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return FetchTask{}, false, nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true, nil
}

// Len reports the number of queued tasks. Test helper.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

const maxFetchAttempts = 10

// RetryWorker drains the retry queue on an interval, re-attempting signed
// document fetches that failed during webhook processing.
type RetryWorker struct {
	queue     RetryQueue
	processor *Processor
	interval  time.Duration
	log       *slog.Logger
}

func NewRetryWorker(queue RetryQueue, processor *Processor, interval time.Duration, log *slog.Logger) *RetryWorker {
	return &RetryWorker{queue: queue, processor: processor, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *RetryWorker) drain(ctx context.Context) {
	for {
		task, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.log.Error("retry dequeue failed", "error", err)
			return
		}
		if !ok {
			return
		}

		if err := w.processor.FetchSignedDocument(ctx, task.EnvelopeID, task.ProviderEnvelopeID); err != nil {
			task.Attempts++
			if task.Attempts >= maxFetchAttempts {
				w.log.Error("signed document fetch abandoned",
					"envelope_id", task.EnvelopeID, "attempts", task.Attempts, "error", err)
				continue
			}
			w.log.Warn("signed document fetch failed, requeueing",
				"envelope_id", task.EnvelopeID, "attempts", task.Attempts, "error", err)
			if err := w.queue.Enqueue(ctx, task); err != nil {
				w.log.Error("retry enqueue failed", "envelope_id", task.EnvelopeID, "error", err)
			}
			return
		}
		w.log.Info("signed document fetched on retry", "envelope_id", task.EnvelopeID)
	}
}
