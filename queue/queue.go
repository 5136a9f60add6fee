// Package queue publishes seating events to RabbitMQ for downstream
// consumers such as hall-ticket printing and notifications.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const SeatingCompletedQueue = "seating.completed"

// SeatingCompleted is published after a seating plan has been stored.
type SeatingCompleted struct {
	RunID       string      `json:"run_id"`
	Date        string      `json:"date"`
	TimeCode    string      `json:"time_code"`
	Students    int         `json:"students"`
	Seated      int         `json:"seated"`
	Unassigned  []int64     `json:"unassigned"`
	Duplicates  []int64     `json:"duplicates,omitempty"`
	Rooms       []RoomUsage `json:"rooms"`
	CompletedAt time.Time   `json:"completed_at"`
}

type RoomUsage struct {
	RoomID   int64 `json:"room_id"`
	Occupied int   `json:"occupied"`
	Capacity int   `json:"capacity"`
}

type Publisher interface {
	PublishSeatingCompleted(ctx context.Context, ev SeatingCompleted) error
}

// AMQPPublisher dials the broker for every message; seating runs are rare
// enough that a long-lived connection is not worth supervising.
type AMQPPublisher struct {
	url string
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url}
}

func (p *AMQPPublisher) PublishSeatingCompleted(ctx context.Context, ev SeatingCompleted) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(SeatingCompletedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	return ch.PublishWithContext(ctx, "", SeatingCompletedQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.CompletedAt,
		MessageId:    ev.RunID,
		Body:         body,
	})
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishSeatingCompleted(context.Context, SeatingCompleted) error { return nil }
