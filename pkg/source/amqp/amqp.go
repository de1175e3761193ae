// Package amqp consumes notification events published as JSON to a RabbitMQ
// queue, for example by a phone-side forwarder.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// Event is the JSON payload of a notification message.
type Event struct {
	ID         string    `json:"id,omitempty"`
	Package    string    `json:"package"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Config holds the broker settings.
type Config struct {
	URL      string
	Exchange string
	Queue    string
}

// Source consumes a durable queue and acknowledges deliveries once the
// worker has handled them.
type Source struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]amqp091.Delivery
}

// New creates an AMQP source. The connection is opened by Read.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = "moneytracker.notifications"
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "moneytracker"
	}
	return &Source{
		cfg:     cfg,
		logger:  logger.With("component", "amqp"),
		pending: make(map[string]amqp091.Delivery),
	}, nil
}

// Read dials the broker and forwards events until ctx is canceled.
// Unacknowledged deliveries return to the queue when the channel closes.
func (s *Source) Read(ctx context.Context, out chan<- *api.Notification, ackChan <-chan api.Ack) error {
	conn, err := amqp091.Dial(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := s.setup(ch); err != nil {
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		s.cfg.Queue, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	s.logger.Info("consuming notifications", "queue", s.cfg.Queue)

	go s.handleAcknowledgments(ctx, ackChan)
	return s.consume(ctx, deliveries, out)
}

func (s *Source) setup(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(s.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// Routing key is the queue name, as for any direct exchange binding here.
	if err := ch.QueueBind(s.cfg.Queue, s.cfg.Queue, s.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (s *Source) consume(ctx context.Context, deliveries <-chan amqp091.Delivery, out chan<- *api.Notification) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("amqp source stopping", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			n, err := Decode(d.Body)
			if err != nil {
				s.logger.Error("rejecting malformed event", "delivery_tag", d.DeliveryTag, "error", err)
				if err := d.Nack(false, false); err != nil {
					s.logger.Warn("failed to reject delivery", "error", err)
				}
				continue
			}
			s.track(n, d)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- n:
			}
		}
	}
}

// track assigns a unique in-flight ID to n and remembers its delivery.
func (s *Source) track(n *api.Notification, d amqp091.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.pending[n.ID]; n.ID == "" || dup {
		n.ID = uuid.NewString()
	}
	s.pending[n.ID] = d
}

func (s *Source) handleAcknowledgments(ctx context.Context, ackChan <-chan api.Ack) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack, ok := <-ackChan:
			if !ok {
				return
			}
			s.settle(ack)
		}
	}
}

// settle acks a handled delivery and requeues a failed one.
func (s *Source) settle(ack api.Ack) {
	id := ack.ID
	s.mu.Lock()
	d, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if ack.Failed {
		if err := d.Nack(false, true); err != nil {
			s.logger.Warn("failed to requeue delivery", "notification_id", id, "error", err)
			return
		}
		s.logger.Warn("delivery requeued", "notification_id", id, "delivery_tag", d.DeliveryTag)
		return
	}
	if err := d.Ack(false); err != nil {
		s.logger.Warn("failed to acknowledge delivery", "notification_id", id, "error", err)
		return
	}
	s.logger.Debug("acknowledged delivery", "notification_id", id, "delivery_tag", d.DeliveryTag)
}

// Decode parses an event payload into a notification.
func Decode(body []byte) (*api.Notification, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if strings.TrimSpace(e.Package) == "" {
		return nil, fmt.Errorf("event has no package")
	}
	n := &api.Notification{
		ID:        e.ID,
		SourceApp: strings.TrimSpace(e.Package),
		Title:     e.Title,
		Body:      e.Text,
	}
	if !e.ReceivedAt.IsZero() {
		n.ReceivedAt = e.ReceivedAt.UTC()
	}
	return n, nil
}
