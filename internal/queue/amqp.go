package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const (
	headerAttempt = "x-attempt"
	deadSuffix    = ".failed"
)

// AMQPQueue is a durable queue on RabbitMQ. Messages are acked only after
// the handler succeeds or a retry copy has been republished, so a crash
// mid-job leads to redelivery.
type AMQPQueue struct {
	conn        *amqp.Connection
	policy      RetryPolicy
	concurrency int
	log         logrus.FieldLogger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	wg sync.WaitGroup
}

// DialAMQP connects to the broker.
func DialAMQP(url string, policy RetryPolicy, concurrency int, log logrus.FieldLogger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	if concurrency < 1 {
		concurrency = 1
	}

	return &AMQPQueue{
		conn:        conn,
		policy:      policy,
		concurrency: concurrency,
		log:         log,
		pubCh:       ch,
	}, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// Publish pushes a new job onto topic.
func (q *AMQPQueue) Publish(_ context.Context, topic string, body []byte) error {
	return q.publish(topic, uuid.NewString(), body, 1)
}

func (q *AMQPQueue) publish(topic, id string, body []byte, attempt int) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if err := declare(q.pubCh, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}

	return q.pubCh.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{headerAttempt: int32(attempt)},
		Body:         body,
	})
}

// Subscribe starts the consumer pool for topic. Consumers stop when ctx is
// cancelled; Close waits for in-flight jobs.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(q.concurrency, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-msgs:
					if !ok {
						return
					}
					q.handle(ctx, topic, m, handler)
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	return nil
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, m amqp.Delivery, handler Handler) {
	d := Delivery{
		ID:      m.MessageId,
		Topic:   topic,
		Body:    m.Body,
		Attempt: attemptOf(m.Headers),
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	log := q.log.WithFields(logrus.Fields{"job_id": d.ID, "attempt": d.Attempt, "queue": topic})

	err := handler(ctx, d)
	if err == nil {
		m.Ack(false)
		return
	}

	if !q.policy.ShouldRetry(d.Attempt, err) {
		log.WithError(err).Error("job permanently failed, moving to dead letter queue")
		if perr := q.publish(topic+deadSuffix, d.ID, d.Body, d.Attempt); perr != nil {
			log.WithError(perr).Error("dead letter publish failed")
			m.Nack(false, true)
			return
		}
		m.Ack(false)
		return
	}

	log.WithError(err).Warn("job failed, scheduling retry")
	select {
	case <-time.After(q.policy.Delay(d.Attempt)):
	case <-ctx.Done():
		m.Nack(false, true)
		return
	}

	if perr := q.publish(topic, d.ID, d.Body, d.Attempt+1); perr != nil {
		log.WithError(perr).Error("retry publish failed, requeueing")
		m.Nack(false, true)
		return
	}
	m.Ack(false)
}

func attemptOf(h amqp.Table) int {
	switch v := h[headerAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// Close waits for consumers and closes the connection.
func (q *AMQPQueue) Close() error {
	q.wg.Wait()
	q.pubCh.Close()
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
