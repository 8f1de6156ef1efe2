// Package push hands queued messages to an external push service over
// RabbitMQ.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/johndosdos/chatterd/internal/queue"
)

const DefaultQueue = "chat_push"

var ErrClosed = errors.New("push: notifier closed")

// Notification is the payload published for each queued message.
type Notification struct {
	QueueID    string `json:"queue_id"`
	Site       string `json:"site"`
	Recipient  string `json:"recipient"`
	MessageID  string `json:"message_id"`
	Room       string `json:"room"`
	ThreadID   string `json:"thread_id,omitempty"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Preview    string `json:"preview"`
	Kind       string `json:"kind"`
	Priority   int    `json:"priority"`
	CreatedAt  int64  `json:"created_at"`
}

// NewNotification builds the payload for m.
func NewNotification(m queue.QueuedMessage) Notification {
	return Notification{
		QueueID:    m.ID.String(),
		Site:       string(m.Site),
		Recipient:  m.Recipient.String(),
		MessageID:  m.MessageID.String(),
		Room:       string(m.Room),
		ThreadID:   m.ThreadID,
		Sender:     m.Sender.String(),
		SenderName: m.SenderName,
		Preview:    m.Preview,
		Kind:       string(m.Kind),
		Priority:   m.Priority,
		CreatedAt:  m.CreatedAt.UnixMilli(),
	}
}

// RabbitNotifier publishes notifications to a durable queue on the default
// exchange. amqp091 channels are not safe for concurrent publishing, so
// Notify is serialised.
type RabbitNotifier struct {
	mu     sync.Mutex
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	queue  string
	logger *slog.Logger
	closed bool
}

// DialRabbit connects to url and declares queueName.
func DialRabbit(url, queueName string, logger *slog.Logger) (*RabbitNotifier, error) {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("push: dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("push: open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("push: declare queue %q: %w", queueName, err)
	}

	logger.Info("rabbitmq push notifier ready", "queue", queueName)
	return &RabbitNotifier{conn: conn, ch: ch, queue: queueName, logger: logger}, nil
}

// Notify publishes m as a persistent JSON message.
func (n *RabbitNotifier) Notify(ctx context.Context, m queue.QueuedMessage) error {
	body, err := json.Marshal(NewNotification(m))
	if err != nil {
		return fmt.Errorf("push: marshal: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	err = n.ch.PublishWithContext(ctx,
		"",      // default exchange
		n.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    m.ID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("push: publish: %w", err)
	}

	n.logger.DebugContext(ctx, "published push notification",
		"queue", n.queue,
		"queue_id", m.ID.String())
	return nil
}

// Close shuts the channel and connection. It is safe to call more than once.
func (n *RabbitNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	return errors.Join(n.ch.Close(), n.conn.Close())
}
