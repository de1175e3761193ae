// Package client builds OAuth2 HTTP clients for the Google APIs used by the
// Gmail source and the Sheets export.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	callbackPath  = "/callback"
	serverTimeout = 5 * time.Minute
)

// Config locates the OAuth client secret and the cached token.
type Config struct {
	SecretFile string
	TokenFile  string
	// CallbackPort is the local port for the browser redirect. Defaults to 8085.
	CallbackPort int
	// Interactive allows starting the browser flow when no token is cached.
	Interactive bool
}

// ErrNoToken is returned when no token is cached and the flow may not run.
var ErrNoToken = errors.New("no cached OAuth token")

// New returns an HTTP client authorized for scopes. A cached token is reused;
// otherwise the browser flow runs when cfg.Interactive is set.
func New(ctx context.Context, cfg Config, logger *slog.Logger, scopes ...string) (*http.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallbackPort == 0 {
		cfg.CallbackPort = 8085
	}

	secret, err := os.ReadFile(cfg.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(secret, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}

	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		if !cfg.Interactive {
			return nil, fmt.Errorf("%w at %s: %w", ErrNoToken, cfg.TokenFile, err)
		}
		logger.Info("no cached token found, starting OAuth flow")
		if tok, err = tokenFromWeb(ctx, oauthCfg, cfg.CallbackPort, logger); err != nil {
			return nil, err
		}
		if err := SaveToken(cfg.TokenFile, tok); err != nil {
			logger.Error("failed to save token", "path", cfg.TokenFile, "error", err)
		}
	}
	return oauthCfg.Client(ctx, tok), nil
}

func tokenFromWeb(ctx context.Context, cfg *oauth2.Config, port int, logger *slog.Logger) (*oauth2.Token, error) {
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", port, callbackPath)

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := startCallbackServer(ctx, port, state, codeChan, errChan, logger)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Printf("\nOpen this URL to authorize moneytracker:\n%s\n\n", authURL)
	if err := openBrowser(ctx, authURL); err != nil {
		logger.Warn("failed to open browser automatically", "error", err)
	}

	select {
	case code := <-codeChan:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code for token: %w", err)
		}
		return tok, nil
	case err := <-errChan:
		return nil, fmt.Errorf("oauth callback error: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(serverTimeout):
		return nil, fmt.Errorf("oauth flow timed out after %v", serverTimeout)
	}
}

// CallbackHandler validates the OAuth redirect and forwards the code or error.
func CallbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != expectedState {
			errChan <- fmt.Errorf("invalid state parameter")
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		if msg := q.Get("error"); msg != "" {
			errChan <- fmt.Errorf("%s: %s", msg, q.Get("error_description"))
			http.Error(w, "Authentication failed: "+msg, http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "moneytracker is authorized. You can close this window.")
		codeChan <- code
	})
}

func startCallbackServer(ctx context.Context, port int, state string, codeChan chan<- string, errChan chan<- error, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle(callbackPath, CallbackHandler(state, codeChan, errChan))

	server := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", port, err)
	}

	go func() {
		logger.Debug("starting OAuth callback server", "port", port)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	return server, nil
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// LoadToken reads a cached token.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
