package sheets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/ArionMiles/moneytracker/pkg/transfer"
)

type fakeSheets struct {
	mu          sync.Mutex
	created     int
	cleared     int
	throttle    int
	updates     [][][]any
	knownSheets map[string]bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/v4/spreadsheets"):
		f.created++
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "new-sheet", "properties": map[string]any{"title": "moneytracker"}})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v4/spreadsheets/") && !strings.Contains(path, "/values"):
		id := strings.TrimPrefix(path, "/v4/spreadsheets/")
		if !f.knownSheets[id] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": id, "properties": map[string]any{"title": "existing"}})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.cleared++
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		if f.throttle > 0 {
			f.throttle--
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limited"}}`))
			return
		}
		var body struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.updates = append(f.updates, body.Values)
		_, _ = w.Write([]byte(`{}`))
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func newTestExporter(t *testing.T, fake *fakeSheets, cfg Config) *Exporter {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	e, err := New(srv.Client(), cfg, nil, option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e.retryDelay = time.Millisecond
	return e
}

func rows() []transfer.Row {
	date, item, cost, bank, cat := "2025-03-14 09:30:15", "Grab", "12.5", "DBS", "2"
	return []transfer.Row{{Date: &date, Item: &item, Cost: &cost, Bank: &bank, Category: &cat}}
}

func TestExport_CreatesSpreadsheet(t *testing.T) {
	fake := &fakeSheets{throttle: 1}
	e := newTestExporter(t, fake, Config{})

	id, err := e.Export(t.Context(), rows())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if id != "new-sheet" {
		t.Errorf("id: got %q, want new-sheet", id)
	}
	if fake.created != 1 || fake.cleared != 1 {
		t.Errorf("got %d creates and %d clears, want 1 and 1", fake.created, fake.cleared)
	}
	if len(fake.updates) != 1 {
		t.Fatalf("updates: got %d, want 1", len(fake.updates))
	}
	values := fake.updates[0]
	if len(values) != 2 || values[0][0] != "Date" || values[1][1] != "Grab" {
		t.Errorf("values: got %v", values)
	}
}

func TestExport_UsesExistingSpreadsheet(t *testing.T) {
	fake := &fakeSheets{knownSheets: map[string]bool{"abc": true}}
	e := newTestExporter(t, fake, Config{SheetID: "abc"})

	id, err := e.Export(t.Context(), nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if id != "abc" || fake.created != 0 {
		t.Errorf("got id %q and %d creates, want abc and 0", id, fake.created)
	}
}
