package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/moneytracker/internal/plugins"
	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/budget"
	"github.com/ArionMiles/moneytracker/pkg/ingest"
	"github.com/ArionMiles/moneytracker/pkg/review"
	"github.com/ArionMiles/moneytracker/pkg/settings"
	"github.com/ArionMiles/moneytracker/pkg/source/mbox"
	"github.com/ArionMiles/moneytracker/pkg/store"
	"github.com/ArionMiles/moneytracker/pkg/store/sqlite"
	"github.com/ArionMiles/moneytracker/pkg/transfer"
)

// today is the day after the default payday.
var today = time.Date(2025, 3, 29, 9, 0, 0, 0, time.UTC)

type fixture struct {
	router *gin.Engine
	store  store.Store
	queue  *ingest.Queue
}

func setup(t *testing.T, today time.Time) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lock := &sync.Mutex{}
	settingsSvc := settings.NewService(s, logger)
	queue := ingest.NewQueue(1)
	reg := plugins.NewRegistry()
	if err := reg.Register(&mbox.Plugin{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	srv := New(Deps{
		Review:   review.NewService(s, lock, logger),
		Settings: settingsSvc,
		Transfer: transfer.NewService(s, lock, logger),
		Rollover: budget.NewEngine(s, settingsSvc, logger,
			budget.WithClock(func() time.Time { return today }), budget.WithLedgerLock(lock)),
		Queue:    queue,
		Registry: reg,
	}, logger)
	srv.now = func() time.Time { return today }

	return &fixture{router: srv.Router(), store: s, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCandidateReviewFlow(t *testing.T) {
	f := setup(t, today)
	ctx := t.Context()

	id, err := f.store.InsertCandidate(ctx, api.Candidate{
		Item: "Grab", Cost: decimal.RequireFromString("12.50"), Bank: "DBS",
		DetectedAt: time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("insert candidate: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/candidates", nil)
	if got := decode[[]api.Candidate](t, w); w.Code != http.StatusOK || len(got) != 1 {
		t.Fatalf("list: got %d %v", w.Code, got)
	}

	w = f.do(t, http.MethodPost, "/api/candidates/"+itoa(id)+"/confirm", map[string]string{"new_name": "Transport"})
	if w.Code != http.StatusCreated {
		t.Fatalf("confirm: got %d %s", w.Code, w.Body)
	}
	tx := decode[api.Transaction](t, w)
	if tx.CategoryID == nil || tx.Item != "Grab" {
		t.Errorf("confirmed: got %+v", tx)
	}

	w = f.do(t, http.MethodPost, "/api/candidates/"+itoa(id)+"/confirm", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("confirm twice: got %d, want 404", w.Code)
	}

	w = f.do(t, http.MethodDelete, "/api/candidates/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", w.Code)
	}
}

func TestTransactionsAndCategories(t *testing.T) {
	f := setup(t, today)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", map[string]string{"item": "Lunch", "cost": "9.90", "bank": "DBS"}, http.StatusCreated},
		{"blank item", map[string]string{"item": " ", "cost": "1"}, http.StatusBadRequest},
		{"negative cost", map[string]string{"item": "x", "cost": "-1"}, http.StatusBadRequest},
		{"malformed", "{", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, "/api/transactions", tc.body); w.Code != tc.want {
				t.Errorf("got %d, want %d: %s", w.Code, tc.want, w.Body)
			}
		})
	}

	w := f.do(t, http.MethodPost, "/api/categories", map[string]string{"name": "Others"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("reserved category: got %d, want 400", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/categories", map[string]string{"name": "Food"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create category: got %d", w.Code)
	}
	cat := decode[api.Category](t, w)

	txs := decode[[]api.Transaction](t, f.do(t, http.MethodGet, "/api/transactions", nil))
	if len(txs) != 1 {
		t.Fatalf("transactions: got %d, want 1", len(txs))
	}
	path := "/api/transactions/" + itoa(txs[0].ID)
	if w := f.do(t, http.MethodPatch, path, map[string]any{"category_id": cat.ID}); w.Code != http.StatusNoContent {
		t.Errorf("recategorize: got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, path, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("delete again: got %d, want 404", w.Code)
	}
}

func TestSettingsAndSummary(t *testing.T) {
	f := setup(t, today)

	us := decode[api.UserSettings](t, f.do(t, http.MethodGet, "/api/settings", nil))
	if us.Payday != settings.DefaultPayday {
		t.Errorf("default payday: got %d", us.Payday)
	}

	if w := f.do(t, http.MethodPatch, "/api/settings", map[string]any{"payday": 40}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid payday: got %d, want 400", w.Code)
	}
	w := f.do(t, http.MethodPatch, "/api/settings", map[string]any{"monthly_budget": "100"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: got %d %s", w.Code, w.Body)
	}

	f.do(t, http.MethodPost, "/api/transactions", map[string]string{"item": "Lunch", "cost": "45.50"})

	var sum struct {
		RemainingDisplay string `json:"remaining_display"`
		DaysUntilPayday  int    `json:"days_until_payday"`
		Transactions     int    `json:"transactions"`
	}
	w = f.do(t, http.MethodGet, "/api/summary", nil)
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.RemainingDisplay != "$5-" || sum.Transactions != 1 {
		t.Errorf("summary: got %+v", sum)
	}
	if sum.DaysUntilPayday != 30 {
		t.Errorf("days until payday: got %d, want 30", sum.DaysUntilPayday)
	}
}

func TestRolloverAndMonths(t *testing.T) {
	f := setup(t, time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC))
	ctx := t.Context()

	if w := f.do(t, http.MethodPatch, "/api/settings", map[string]any{"payday": 31}); w.Code != http.StatusOK {
		t.Fatalf("set payday: got %d", w.Code)
	}
	if _, err := f.store.EnsureMonthlyRecord(ctx, "03-2025"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	f.do(t, http.MethodPost, "/api/transactions", map[string]string{"item": "Lunch", "cost": "10"})

	w := f.do(t, http.MethodPost, "/api/rollover/check", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check: got %d %s", w.Code, w.Body)
	}
	out := decode[budget.Outcome](t, w)
	if out.CurrentMonth != "04-2025" || out.ArchivedMonth != "03-2025" || out.ArchivedCount != 1 {
		t.Errorf("outcome: got %+v", out)
	}

	if w := f.do(t, http.MethodGet, "/api/months", nil); !strings.Contains(w.Body.String(), "03-2025") {
		t.Errorf("months should list 03-2025: %s", w.Body)
	}
	if w := f.do(t, http.MethodGet, "/api/months/03-2025", nil); w.Code != http.StatusOK {
		t.Errorf("month: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/months/2025-03", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad key: got %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/months/03-2025/export?format=csv", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Lunch") {
		t.Errorf("export month: got %d %s", w.Code, w.Body)
	}
	if w := f.do(t, http.MethodGet, "/api/months/01-2025/export", nil); w.Code != http.StatusNotFound {
		t.Errorf("export missing month: got %d, want 404", w.Code)
	}
}

func TestImportExport(t *testing.T) {
	f := setup(t, today)

	csv := "Date,Item,Cost,Bank,Category\n2025-03-01 10:00:00,Coffee,4.20,DBS,\nbroken\n"
	w := f.do(t, http.MethodPost, "/api/import?format=csv&mode=replace", csv)
	if w.Code != http.StatusOK {
		t.Fatalf("import: got %d %s", w.Code, w.Body)
	}
	if res := decode[transfer.Result](t, w); res.Imported != 1 || res.Skipped != 1 {
		t.Errorf("import result: got %+v", res)
	}

	if w := f.do(t, http.MethodPost, "/api/import?format=ods", csv); w.Code != http.StatusBadRequest {
		t.Errorf("bad format: got %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/export?format=json", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Coffee") {
		t.Errorf("export: got %d %s", w.Code, w.Body)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".json") {
		t.Errorf("content disposition: got %q", cd)
	}
}

func TestPushNotification(t *testing.T) {
	f := setup(t, today)

	if w := f.do(t, http.MethodPost, "/api/notifications", map[string]string{"title": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing source app: got %d, want 400", w.Code)
	}

	n := map[string]string{"source_app": "com.dbs.sg.digibank", "title": "Grab", "body": "$12.50"}
	w := f.do(t, http.MethodPost, "/api/notifications", n)
	if w.Code != http.StatusAccepted {
		t.Fatalf("push: got %d %s", w.Code, w.Body)
	}
	if id := decode[map[string]string](t, w)["id"]; id == "" {
		t.Error("expected a generated id")
	}

	if w := f.do(t, http.MethodPost, "/api/notifications", n); w.Code != http.StatusServiceUnavailable {
		t.Errorf("full queue: got %d, want 503", w.Code)
	}
	if f.queue.Len() != 1 {
		t.Errorf("queue length: got %d, want 1", f.queue.Len())
	}
}

func TestListSources(t *testing.T) {
	f := setup(t, today)
	w := f.do(t, http.MethodGet, "/api/sources", nil)
	got := decode[[]sourceInfo](t, w)
	if len(got) != 1 || got[0].Name != "mbox" {
		t.Errorf("sources: got %+v", got)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
