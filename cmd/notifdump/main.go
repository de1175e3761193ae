// Command notifdump fetches notification emails from Gmail and dumps them as
// JSON files. The files are used as extractor test fixtures and can be
// replayed into a running daemon through POST /api/notifications.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/moneytracker/pkg/api"
	"github.com/ArionMiles/moneytracker/pkg/client"
	"github.com/ArionMiles/moneytracker/pkg/config"
	"github.com/ArionMiles/moneytracker/pkg/extract"
	"github.com/ArionMiles/moneytracker/pkg/logging"
	gmailsource "github.com/ArionMiles/moneytracker/pkg/source/gmail"
)

// dump is the file format: the notification plus what the extractor made of it.
type dump struct {
	Notification *api.Notification `json:"notification"`
	Candidate    *api.Candidate    `json:"candidate,omitempty"`
}

func main() {
	query := flag.String("query", gmailsource.DefaultQuery, "Gmail search query")
	limit := flag.Int64("max", 25, "maximum number of messages to fetch")
	dir := flag.String("out", "pkg/extract/testdata/dump", "output directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.FromSettings(cfg.LogLevel, cfg.LogJSON))

	ctx := context.Background()
	httpClient, err := client.New(ctx, client.Config{
		SecretFile: cfg.Google.ClientSecretFile,
		TokenFile:  cfg.Google.TokenFile,
	}, logger, gmail.GmailReadonlyScope)
	if err != nil {
		logger.Error("failed to create http client", "error", err)
		os.Exit(1)
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		logger.Error("failed to create gmail service", "error", err)
		os.Exit(1)
	}

	banks, err := extract.DefaultBankResolver()
	if err != nil {
		logger.Error("failed to load bank rules", "error", err)
		os.Exit(1)
	}
	extractor := extract.New(banks, logger)

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		logger.Error("failed to create dump directory", "error", err)
		os.Exit(1)
	}

	count, matched, err := dumpMessages(ctx, svc, extractor, *query, *limit, *dir, logger)
	if err != nil {
		logger.Error("dump failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notification dump complete", "dumped", count, "extracted", matched, "directory", *dir)
}

func dumpMessages(ctx context.Context, svc *gmail.Service, extractor *extract.Extractor, query string, limit int64, dir string, logger *slog.Logger) (int, int, error) {
	resp, err := svc.Users.Messages.List("me").Q(query).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return 0, 0, fmt.Errorf("listing messages: %w", err)
	}

	count, matched := 0, 0
	for _, m := range resp.Messages {
		msg, err := svc.Users.Messages.Get("me", m.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logger.Warn("failed to get message", "message_id", m.Id, "error", err)
			continue
		}

		d := dump{Notification: gmailsource.ToNotification(msg)}
		if c, ok := extractor.Extract(d.Notification, time.Now()); ok {
			d.Candidate = c
			matched++
		}

		written, err := writeDump(dir, d)
		if err != nil {
			logger.Warn("failed to dump message", "message_id", m.Id, "error", err)
			continue
		}
		if written {
			count++
			logger.Info("dumped notification",
				"message_id", m.Id,
				"source_app", d.Notification.SourceApp,
				"extracted", d.Candidate != nil,
			)
		}
	}
	return count, matched, nil
}

// writeDump writes d unless a file for the same notification already exists.
func writeDump(dir string, d dump) (bool, error) {
	n := d.Notification
	name := sanitizeFilename(fmt.Sprintf("%s_%s_%s", n.SourceApp, n.ReceivedAt.Format("2006-01-02_150405"), n.Title)) + ".json"
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding notification: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("writing file: %w", err)
	}
	return true, nil
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
