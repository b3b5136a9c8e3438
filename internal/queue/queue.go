package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
)

// Delivery is one attempt at handling a queued job.
type Delivery struct {
	ID      string
	Topic   string
	Body    []byte
	Attempt int // 1 on first delivery
}

// Handler processes a delivery. A returned error triggers a retry unless it
// is permanent or the attempt budget is spent.
type Handler func(ctx context.Context, d Delivery) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// RetryPolicy bounds redelivery of failed jobs.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries up to five attempts with exponential backoff
// starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 2 * time.Second}
}

// Delay returns the wait before the attempt following attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return p.Backoff * time.Duration(1<<(attempt-1))
}

// ShouldRetry reports whether a failed attempt gets another try.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || appErrors.IsPermanent(err) {
		return false
	}
	return attempt < p.MaxAttempts
}

// InMemoryQueue runs handlers in-process with the same retry policy as the
// broker-backed queue. It is used in development and tests.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	policy   RetryPolicy
	log      logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(policy RetryPolicy, log logrus.FieldLogger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]Handler),
		policy:   policy,
		log:      log,
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, body []byte) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	id := uuid.NewString()
	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(context.WithoutCancel(ctx), handler, Delivery{ID: id, Topic: topic, Body: body, Attempt: 1})
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, handler Handler, d Delivery) {
	defer q.wg.Done()

	for {
		err := handler(ctx, d)
		if err == nil {
			q.log.WithField("job_id", d.ID).Debug("job processed")
			return
		}

		if !q.policy.ShouldRetry(d.Attempt, err) {
			q.log.WithFields(logrus.Fields{"job_id": d.ID, "attempt": d.Attempt}).
				WithError(err).Error("job permanently failed")
			return
		}

		q.log.WithFields(logrus.Fields{"job_id": d.ID, "attempt": d.Attempt}).
			WithError(err).Warn("job failed, retrying")

		time.Sleep(q.policy.Delay(d.Attempt))
		d.Attempt++
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(_ context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
