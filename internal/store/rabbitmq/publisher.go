package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/sportlens/internal/task"
)

const attemptHeader = "x-attempt"

// SyncRequest asks a worker to reconcile one user's chats and migrate any
// guest tasks left on this device.
type SyncRequest struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Reason       string    `json:"reason"`
	RequestedAt  time.Time `json:"requested_at"`
}

type Publisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	eventQueue string
}

func NewPublisher(url, queue, eventQueue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue, eventQueue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, eventQueue: eventQueue}, nil
}

// declareTopology declares the sync queue with its retry and dead-letter
// queues, plus the task event queue. Publisher and consumer must agree.
func declareTopology(ch *amqp.Channel, queue, eventQueue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlqQ, err)
	}
	// retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", retryQ, err)
	}
	// main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", mainQ, err)
	}
	if eventQueue != "" {
		if _, err := ch.QueueDeclare(eventQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", eventQueue, err)
		}
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishSyncRequest(ctx context.Context, req SyncRequest) error {
	if req.UserID == "" {
		return errors.New("sync request without user")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	return p.publish(ctx, p.queue, req)
}

// PublishTaskEvent satisfies task.EventPublisher.
func (p *Publisher) PublishTaskEvent(ctx context.Context, e task.Event) error {
	if p.eventQueue == "" {
		return nil
	}
	return p.publish(ctx, p.eventQueue, e)
}

// Retry parks a failed delivery on the retry queue; it comes back to the
// main queue after delay with its attempt count bumped.
func (p *Publisher) Retry(ctx context.Context, d amqp.Delivery, delay time.Duration) error {
	headers := amqp.Table{attemptHeader: int32(Attempt(d) + 1)}
	ms := strconv.FormatInt(delay.Milliseconds(), 10)
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.ch.PublishWithContext(cctx, "", p.queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      headers,
		Expiration:   ms,
		Timestamp:    time.Now(),
	})
}

func (p *Publisher) publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Attempt reads how many times a delivery has already been retried.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func DecodeSyncRequest(body []byte) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return SyncRequest{}, err
	}
	if req.UserID == "" || req.AccessToken == "" {
		return SyncRequest{}, errors.New("sync request missing user or token")
	}
	return req, nil
}
