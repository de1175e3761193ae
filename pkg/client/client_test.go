package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "token.json")
	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := SaveToken(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions: got %o, want 600", perm)
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNew_NonInteractiveWithoutToken(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "client_secret.json")
	content := `{"installed":{"client_id":"id","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	if err := os.WriteFile(secret, []byte(content), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	_, err := New(t.Context(), Config{SecretFile: secret, TokenFile: filepath.Join(dir, "missing.json")}, nil)
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("got %v, want ErrNoToken", err)
	}
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantOK   bool
	}{
		{"valid", "?state=s1&code=abc", http.StatusOK, true},
		{"wrong state", "?state=other&code=abc", http.StatusBadRequest, false},
		{"provider error", "?state=s1&error=access_denied", http.StatusBadRequest, false},
		{"missing code", "?state=s1", http.StatusBadRequest, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codes := make(chan string, 1)
			errs := make(chan error, 1)
			rec := httptest.NewRecorder()

			CallbackHandler("s1", codes, errs).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback"+tc.query, nil))

			if rec.Code != tc.wantCode {
				t.Errorf("status: got %d, want %d", rec.Code, tc.wantCode)
			}
			if tc.wantOK {
				if code := <-codes; code != "abc" {
					t.Errorf("code: got %q, want abc", code)
				}
				return
			}
			if len(errs) != 1 {
				t.Error("expected an error to be reported")
			}
		})
	}
}
