// Package mbox replays notification e-mails from an mbox dump. It reads the
// same forwarded-notification format as the Gmail source and is mostly used
// to backfill candidates from an exported mailbox.
package mbox

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"
	"sync"

	gombox "github.com/emersion/go-mbox"
	"github.com/google/uuid"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/source/gmail"
)

// Source replays every message of an mbox file once.
type Source struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	acked   int
	failed  int
}

// New creates an mbox source reading path.
func New(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("mbox path is required")
	}
	return &Source{
		path:    path,
		logger:  logger.With("component", "mbox"),
		pending: make(map[string]struct{}),
	}, nil
}

// Read replays the file into out, then keeps draining ackChan until ctx is
// canceled.
func (s *Source) Read(ctx context.Context, out chan<- *api.Notification, ackChan <-chan api.Ack) error {
	go s.handleAcknowledgments(ctx, ackChan)

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	sent, skipped, err := s.replay(ctx, f, out)
	if err != nil {
		return err
	}
	s.logger.Info("mbox replay complete", "path", s.path, "sent", sent, "skipped", skipped)

	<-ctx.Done()
	s.mu.Lock()
	s.logger.Info("mbox source stopping",
		"acknowledged", s.acked, "failed", s.failed, "unacknowledged", len(s.pending))
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Source) replay(ctx context.Context, r io.Reader, out chan<- *api.Notification) (sent, skipped int, err error) {
	mr := gombox.NewReader(r)
	for {
		raw, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			return sent, skipped, nil
		}
		if err != nil {
			return sent, skipped, fmt.Errorf("reading mbox message %d: %w", sent+skipped+1, err)
		}

		n, err := Parse(raw)
		if err != nil {
			skipped++
			s.logger.Warn("skipping unreadable message", "index", sent+skipped, "error", err)
			continue
		}
		s.track(n)

		select {
		case <-ctx.Done():
			return sent, skipped, ctx.Err()
		case out <- n:
			sent++
		}
	}
}

// track records n as in flight, giving it a fresh ID when its own is missing
// or already pending.
func (s *Source) track(n *api.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.pending[n.ID]; n.ID == "" || dup {
		n.ID = uuid.NewString()
	}
	s.pending[n.ID] = struct{}{}
}

// handleAcknowledgments settles replayed messages. A file cannot redeliver,
// so failures are only counted and logged.
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

func (s *Source) settle(ack api.Ack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[ack.ID]; !ok {
		return
	}
	delete(s.pending, ack.ID)
	if ack.Failed {
		s.failed++
		s.logger.Warn("replayed message not handled", "notification_id", ack.ID)
		return
	}
	s.acked++
}

// Parse converts one raw RFC 5322 message into a notification.
func Parse(r io.Reader) (*api.Notification, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	dec := new(mime.WordDecoder)
	title, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		title = msg.Header.Get("Subject")
	}

	n := &api.Notification{
		ID:        strings.Trim(msg.Header.Get("Message-ID"), "<> "),
		Title:     title,
		SourceApp: strings.TrimSpace(msg.Header.Get(gmail.PackageHeader)),
	}
	if n.SourceApp == "" {
		if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
			n.SourceApp = strings.ToLower(addr.Address)
		}
	}
	if date, err := msg.Header.Date(); err == nil {
		n.ReceivedAt = date.UTC()
	}

	body, err := readBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	n.Body = strings.TrimSpace(body)
	return n, nil
}

// readBody returns the first text/plain part, or the first text/html part
// when there is no plain one.
func readBody(contentType, encoding string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		b, err := io.ReadAll(decodeTransfer(encoding, r))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	var html string
	mr := multipart.NewReader(r, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return html, nil
		}
		if err != nil {
			return "", err
		}
		body, err := readBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
		if err != nil {
			return "", err
		}
		partType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			// RFC 2046 default for parts without a usable Content-Type.
			partType = "text/plain"
		}
		switch {
		case partType == "text/plain" && body != "":
			return body, nil
		case strings.HasPrefix(partType, "multipart/") && body != "":
			return body, nil
		case partType == "text/html" && html == "":
			html = body
		}
	}
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: bufio.NewReader(r)})
	default:
		return r
	}
}

// newlineStripper drops CR and LF so wrapped base64 bodies decode.
type newlineStripper struct {
	r *bufio.Reader
}

func (s *newlineStripper) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := s.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b == '\r' || b == '\n' {
			continue
		}
		p[n] = b
		n++
	}
	return n, nil
}
