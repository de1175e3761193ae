package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ArionMiles/moneytracker/pkg/client"
	"github.com/ArionMiles/moneytracker/pkg/config"
	gmailsource "github.com/ArionMiles/moneytracker/pkg/source/gmail"
	"github.com/ArionMiles/moneytracker/pkg/transfer/sheets"
)

// runStatus checks the configuration, the store and authentication.
func runStatus(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if err := newFlagSet("status").Parse(args); err != nil {
		return err
	}

	fmt.Println("=== moneytracker status ===")
	fmt.Println()

	allGood := true
	fail := func(format string, a ...any) {
		fmt.Printf("✗ "+format+"\n", a...)
		allGood = false
	}

	fmt.Printf("Store (%s): ", cfg.Store)
	a, err := newApp(cfg, logger)
	if err != nil {
		fail("%v", err)
	} else {
		defer a.Close(logger)
		checkStore(ctx, a, fail)
	}

	source := cfg.Source
	if source == "" {
		source = "none (HTTP push only)"
	}
	fmt.Printf("Source: %s\n", source)

	fmt.Printf("Client secret (%s): ", cfg.Google.ClientSecretFile)
	if _, err := os.Stat(cfg.Google.ClientSecretFile); err != nil {
		fail("Not found")
	} else {
		fmt.Println("✓ Found")
	}

	fmt.Printf("OAuth token (%s): ", cfg.Google.TokenFile)
	tok, err := client.LoadToken(cfg.Google.TokenFile)
	switch {
	case err != nil:
		if cfg.Source == (&gmailsource.Plugin{}).Name() {
			fail("%v", err)
		} else {
			fmt.Println("- Not found (only needed for gmail and Sheets export)")
		}
	case !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now()):
		fmt.Println("⚠ Expired (will refresh on next run)")
	default:
		fmt.Println("✓ Valid")
	}

	fmt.Println()
	if allGood {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed. Run 'moneytracker auth' to set up Google access.")
	}
	return nil
}

func checkStore(ctx context.Context, a *app, fail func(string, ...any)) {
	us, err := a.settings.Load(ctx)
	if err != nil {
		fail("%v", err)
		return
	}
	months, err := a.store.ListMonthlyRecords(ctx)
	if err != nil {
		fail("%v", err)
		return
	}
	candidates, err := a.review.Candidates(ctx)
	if err != nil {
		fail("%v", err)
		return
	}
	fmt.Println("✓ Reachable")
	printer.Printf("  payday %d, budget %s, %d months, %d pending candidates\n",
		us.Payday, money(us.MonthlyBudget), len(months), len(candidates))
}

// runAuth runs the OAuth flow for Gmail and Sheets and caches the token.
func runAuth(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("auth")
	force := fs.Bool("force", false, "discard the cached token and authenticate again")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Google.ClientSecretFile); err != nil {
		return fmt.Errorf("client secret not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'",
			cfg.Google.ClientSecretFile, cfg.Google.ClientSecretFile)
	}

	if *force {
		if err := os.Remove(cfg.Google.TokenFile); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove existing token", "error", err)
		}
	} else if _, err := os.Stat(cfg.Google.TokenFile); err == nil {
		fmt.Printf("Already authenticated, token file exists: %s\n", cfg.Google.TokenFile)
		fmt.Println("To re-authenticate, run: moneytracker auth -force")
		return nil
	}

	scopes := append((&gmailsource.Plugin{}).RequiredScopes(), sheets.Scopes()...)
	if _, err := client.New(ctx, client.Config{
		SecretFile:  cfg.Google.ClientSecretFile,
		TokenFile:   cfg.Google.TokenFile,
		Interactive: true,
	}, logger, scopes...); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Printf("Token saved to: %s\n", cfg.Google.TokenFile)
	return nil
}
