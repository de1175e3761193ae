// Package ingest moves notifications from sources into the candidate store.
//
// Notifications enter a bounded queue and are handled by a single worker,
// which extracts a candidate, stores it and acknowledges the notification ID
// back to the source.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/extract"
)

// DefaultQueueSize is used when a non-positive size is requested.
const DefaultQueueSize = 100

// ErrQueueFull is returned by Offer when the queue has no room.
var ErrQueueFull = errors.New("ingest queue is full")

// Queue is the bounded notification queue between sources and the worker.
type Queue struct {
	ch chan *api.Notification
}

// NewQueue creates a queue holding up to size notifications.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan *api.Notification, size)}
}

// In is the send side handed to sources. Sends block while the queue is full.
func (q *Queue) In() chan<- *api.Notification { return q.ch }

// Out is the receive side consumed by the worker.
func (q *Queue) Out() <-chan *api.Notification { return q.ch }

// Offer enqueues n without blocking.
func (q *Queue) Offer(n *api.Notification) error {
	select {
	case q.ch <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int { return len(q.ch) }

// CandidateStore persists candidates.
type CandidateStore interface {
	InsertCandidate(ctx context.Context, c api.Candidate) (int64, error)
}

// Stats counts what the worker did since it started.
type Stats struct {
	Received  int `json:"received"`
	Stored    int `json:"stored"`
	Discarded int `json:"discarded"`
	Failed    int `json:"failed"`
}

// Worker turns queued notifications into stored candidates.
type Worker struct {
	extractor *extract.Extractor
	store     CandidateStore
	logger    *slog.Logger
	now       func() time.Time

	retryAttempts uint
	retryDelay    time.Duration

	received, stored, discarded, failed atomic.Int64
}

// NewWorker creates a worker.
func NewWorker(extractor *extract.Extractor, s CandidateStore, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		extractor:     extractor,
		store:         s,
		logger:        logger.With("component", "ingest"),
		now:           time.Now,
		retryAttempts: 3,
		retryDelay:    time.Second,
	}
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Received:  int(w.received.Load()),
		Stored:    int(w.stored.Load()),
		Discarded: int(w.discarded.Load()),
		Failed:    int(w.failed.Load()),
	}
}

// Run consumes in until it is closed or ctx is done. Every notification with
// an ID is settled on ackChan: stored or discarded ones as handled, ones whose
// candidate could not be stored as failed so the source can deliver them again.
func (w *Worker) Run(ctx context.Context, in <-chan *api.Notification, ackChan chan<- api.Ack) error {
	w.logger.Info("ingest worker started")
	defer func() {
		st := w.Stats()
		w.logger.Info("ingest worker stopped",
			"received", st.Received, "stored", st.Stored, "discarded", st.Discarded, "failed", st.Failed)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-in:
			if !ok {
				return nil
			}
			ack := api.Ack{ID: n.ID}
			if err := w.handle(ctx, n); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.failed.Add(1)
				w.logger.Error("failed to store candidate", "notification_id", n.ID, "error", err)
				ack.Failed = true
			}
			if n.ID == "" || ackChan == nil {
				continue
			}
			select {
			case ackChan <- ack:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handle extracts and stores one notification.
func (w *Worker) handle(ctx context.Context, n *api.Notification) error {
	w.received.Add(1)

	detectedAt := n.ReceivedAt
	if detectedAt.IsZero() {
		detectedAt = w.now()
	}

	c, ok := w.extractor.Extract(n, detectedAt)
	if !ok {
		w.discarded.Add(1)
		return nil
	}

	var id int64
	err := retry.Do(
		func() error {
			var err error
			id, err = w.store.InsertCandidate(ctx, *c)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(w.retryAttempts),
		retry.Delay(w.retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("inserting candidate: %w", err)
	}

	w.stored.Add(1)
	w.logger.Info("candidate stored",
		"candidate_id", id,
		"notification_id", n.ID,
		"bank", c.Bank,
		"cost", c.Cost.String(),
	)
	return nil
}
