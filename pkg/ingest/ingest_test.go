package ingest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/extract"
)

type memoryStore struct {
	mu         sync.Mutex
	candidates []api.Candidate
	failFirst  int
	err        error
}

func (m *memoryStore) InsertCandidate(_ context.Context, c api.Candidate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.failFirst > 0 {
		m.failFirst--
		return 0, errors.New("database is locked")
	}
	m.candidates = append(m.candidates, c)
	return int64(len(m.candidates)), nil
}

func newTestWorker(t *testing.T, s CandidateStore) *Worker {
	t.Helper()
	banks, err := extract.DefaultBankResolver()
	if err != nil {
		t.Fatalf("failed to load bank rules: %v", err)
	}
	w := NewWorker(extract.New(banks, nil), s, nil)
	w.retryDelay = time.Millisecond
	w.now = func() time.Time { return time.Date(2025, 5, 5, 10, 0, 0, 0, time.UTC) }
	return w
}

func run(t *testing.T, w *Worker, notifications ...*api.Notification) []api.Ack {
	t.Helper()
	q := NewQueue(len(notifications) + 1)
	for _, n := range notifications {
		if err := q.Offer(n); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	close(q.ch)

	acks := make(chan api.Ack, len(notifications))
	if err := w.Run(t.Context(), q.Out(), acks); err != nil {
		t.Fatalf("run: %v", err)
	}
	close(acks)

	var got []api.Ack
	for ack := range acks {
		got = append(got, ack)
	}
	return got
}

func TestWorker_StoresAndAcks(t *testing.T) {
	s := &memoryStore{}
	w := newTestWorker(t, s)
	received := time.Date(2025, 5, 4, 22, 15, 0, 0, time.UTC)

	acks := run(t, w,
		&api.Notification{ID: "a", SourceApp: "com.dbs.sg.digibank", Title: "Grab", Body: "$12.50 spent"},
		&api.Notification{ID: "b", SourceApp: "com.whatsapp", Title: "Bob", Body: "lunch $5?"},
		&api.Notification{ID: "c", SourceApp: "com.google.android.apps.walletnfcrel", Title: "NTUC",
			Body: "SGD 3.10 with Visa 4321", ReceivedAt: received},
	)

	want := []api.Ack{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if !slices.Equal(acks, want) {
		t.Errorf("acks: got %v, want %v", acks, want)
	}
	if len(s.candidates) != 2 {
		t.Fatalf("candidates: got %d, want 2", len(s.candidates))
	}
	if got := s.candidates[1]; got.Bank != "GP 4321" || !got.DetectedAt.Equal(received) {
		t.Errorf("wallet candidate: got %+v", got)
	}
	if got := s.candidates[0].DetectedAt; !got.Equal(w.now()) {
		t.Errorf("detected at: got %s, want worker clock", got)
	}

	wantStats := Stats{Received: 3, Stored: 2, Discarded: 1}
	if got := w.Stats(); got != wantStats {
		t.Errorf("stats: got %+v, want %+v", got, wantStats)
	}
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	s := &memoryStore{failFirst: 2}
	w := newTestWorker(t, s)

	acks := run(t, w, &api.Notification{ID: "x", SourceApp: "com.uob.mighty", Title: "Shop", Body: "SGD1"})

	if len(acks) != 1 || acks[0].Failed || len(s.candidates) != 1 {
		t.Errorf("got acks %v and %d candidates, want one clean ack and 1", acks, len(s.candidates))
	}
}

func TestWorker_ReportsFailedStore(t *testing.T) {
	s := &memoryStore{err: errors.New("disk I/O error")}
	w := newTestWorker(t, s)

	acks := run(t, w,
		&api.Notification{ID: "x", SourceApp: "com.uob.mighty", Title: "Shop", Body: "SGD1"},
		&api.Notification{ID: "y", SourceApp: "com.uob.mighty", Title: "Login", Body: "new device"},
	)

	want := []api.Ack{{ID: "x", Failed: true}, {ID: "y"}}
	if !slices.Equal(acks, want) {
		t.Errorf("acks: got %v, want %v", acks, want)
	}
	if got := w.Stats(); got.Failed != 1 || got.Discarded != 1 {
		t.Errorf("stats: got %+v, want 1 failed and 1 discarded", got)
	}
}

func TestWorker_StopsOnCancel(t *testing.T) {
	w := newTestWorker(t, &memoryStore{})
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, NewQueue(1).Out(), nil) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestQueue_OfferWhenFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.Offer(&api.Notification{ID: "1"}); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if err := q.Offer(&api.Notification{ID: "2"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second offer: got %v, want ErrQueueFull", err)
	}
	if q.Len() != 1 {
		t.Errorf("len: got %d, want 1", q.Len())
	}
}
