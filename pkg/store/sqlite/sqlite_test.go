package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/ArionMiles/moneytracker/pkg/store"
	"github.com/ArionMiles/moneytracker/pkg/store/storetest"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.InsertCategory(t.Context(), "Food"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	categories, err := s.ListCategories(t.Context())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(categories) != 1 || categories[0].Name != "Food" {
		t.Errorf("got %+v, want [Food]", categories)
	}
}
