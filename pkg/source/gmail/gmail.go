// Package gmail implements a notification source over Gmail. Phone
// notifications are expected to arrive as forwarded e-mails: the subject
// carries the notification title and the body its text.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/moneytracker/pkg/api"
)

// PackageHeader carries the Android package name of the forwarded notification.
const PackageHeader = "X-Notification-Package"

// Source polls Gmail for unread notification e-mails.
type Source struct {
	client   *gmail.Service
	queries  []string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// Config holds configuration for the Gmail source.
type Config struct {
	// Queries are Gmail search queries selecting notification e-mails.
	Queries []string
	// Interval between polls. Defaults to 30 seconds.
	Interval time.Duration
}

// New creates a new Gmail source.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Queries) == 0 {
		return nil, fmt.Errorf("at least one query is required")
	}

	client, err := gmail.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &Source{
		client:   client,
		queries:  cfg.Queries,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}, nil
}

// Read polls until ctx is canceled. Messages are marked as read only after
// they are acknowledged; failed ones stay unread and are fetched again on a
// later poll.
func (s *Source) Read(ctx context.Context, out chan<- *api.Notification, ackChan <-chan api.Ack) error {
	go s.handleAcknowledgments(ctx, ackChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx, out)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("gmail source stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx, out)
		}
	}
}

func (s *Source) handleAcknowledgments(ctx context.Context, ackChan <-chan api.Ack) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack, ok := <-ackChan:
			if !ok {
				s.logger.Info("acknowledgment channel closed")
				return
			}
			s.settle(ctx, ack)
		}
	}
}

func (s *Source) settle(ctx context.Context, ack api.Ack) {
	if !s.release(ack.ID) {
		return
	}
	if ack.Failed {
		s.logger.Warn("message not handled, will retry on next poll", "message_id", ack.ID)
		return
	}
	s.markAsRead(ctx, ack.ID)
}

// claim records msgID as in flight and reports whether it was new.
func (s *Source) claim(msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[msgID]; ok {
		return false
	}
	s.pending[msgID] = struct{}{}
	return true
}

// release forgets msgID and reports whether it was in flight.
func (s *Source) release(msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[msgID]; !ok {
		return false
	}
	delete(s.pending, msgID)
	return true
}

func (s *Source) markAsRead(ctx context.Context, msgID string) {
	_, err := s.client.Users.Messages.Modify("me", msgID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		s.logger.Warn("failed to mark message as read", "message_id", msgID, "error", err)
		return
	}
	s.logger.Debug("marked message as read", "message_id", msgID)
}

func (s *Source) poll(ctx context.Context, out chan<- *api.Notification) {
	for _, q := range s.queries {
		resp, err := s.client.Users.Messages.List("me").Q(q).Context(ctx).Do()
		if err != nil {
			s.logger.Error("failed to list messages", "query", q, "error", err)
			continue
		}
		s.logger.Debug("found messages", "query", q, "count", len(resp.Messages))

		for _, m := range resp.Messages {
			if !s.claim(m.Id) {
				continue
			}
			if err := s.fetch(ctx, m.Id, out); err != nil {
				s.release(m.Id)
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("failed to process message", "message_id", m.Id, "error", err)
			}
		}
	}
}

func (s *Source) fetch(ctx context.Context, msgID string, out chan<- *api.Notification) error {
	msg, err := s.client.Users.Messages.Get("me", msgID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("getting message: %w", err)
	}

	n := ToNotification(msg)
	s.logger.Debug("received notification e-mail",
		"message_id", msgID,
		"source_app", n.SourceApp,
		"title", n.Title,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- n:
	}
	return nil
}

// ToNotification converts a Gmail message into a notification. The source
// app is the PackageHeader value, or the sender address when it is absent.
func ToNotification(msg *gmail.Message) *api.Notification {
	n := &api.Notification{ID: msg.Id}
	if msg.InternalDate > 0 {
		n.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return n
	}

	var from string
	for _, h := range msg.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "Subject"):
			n.Title = h.Value
		case strings.EqualFold(h.Name, PackageHeader):
			n.SourceApp = strings.TrimSpace(h.Value)
		case strings.EqualFold(h.Name, "From"):
			from = h.Value
		}
	}
	if n.SourceApp == "" {
		n.SourceApp = senderAddress(from)
	}

	n.Body = strings.TrimSpace(extractBody(msg.Payload))
	return n
}

func senderAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// extractBody prefers a text/plain part and falls back to text/html, then to
// the payload's own body.
func extractBody(part *gmail.MessagePart) string {
	if body := findPart(part, "text/plain"); body != "" {
		return body
	}
	if body := findPart(part, "text/html"); body != "" {
		return body
	}
	if part.Body != nil {
		return decode(part.Body.Data)
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil {
		if body := decode(part.Body.Data); body != "" {
			return body
		}
	}
	for _, child := range part.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decode(data string) string {
	if data == "" {
		return ""
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail omits padding on some parts.
		if b, err = base64.RawURLEncoding.DecodeString(data); err != nil {
			return ""
		}
	}
	return string(b)
}
