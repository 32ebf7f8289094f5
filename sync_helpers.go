package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/tonimelisma/leavesync/internal/calendar"
	"github.com/tonimelisma/leavesync/internal/config"
	"github.com/tonimelisma/leavesync/internal/sync"
	"github.com/tonimelisma/leavesync/internal/tenk"
)

const hoursPerDay = 24

// runPass builds the clients for one run from rc, opens the state store
// exclusively, and runs the engine once. The store is closed before return
// so watch mode never holds the lock between passes.
func runPass(ctx context.Context, rc *config.ResolvedConfig, logger *slog.Logger, opts sync.RunOpts) (*sync.Report, error) {
	if err := rc.RequireAPIKey(); err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(rc)

	source, err := newCalendarSource(ctx, rc, httpClient, logger)
	if err != nil {
		return nil, err
	}

	store, err := sync.OpenStore(ctx, rc.State.DBPath, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	client := tenk.NewClient(rc.Tenk.BaseURL, rc.Tenk.APIKey, httpClient, logger, rc.Network.UserAgent)
	backend := sync.NewTenkBackend(client, rc.Tenk.PerPage, logger)

	engine := sync.NewEngine(&sync.EngineConfig{
		Source:         source,
		Gateway:        backend,
		Directory:      backend,
		Store:          store,
		TitleDelimiter: rc.Sync.TitleDelimiter,
		PageSize:       rc.Sync.PageSize,
		MaxPages:       rc.Sync.MaxPages,
		Logger:         logger,
	})

	return engine.RunOnce(ctx, opts)
}

// newCalendarSource builds the configured calendar provider.
func newCalendarSource(
	ctx context.Context, rc *config.ResolvedConfig, httpClient *http.Client, logger *slog.Logger,
) (calendar.Source, error) {
	switch rc.Calendar.Provider {
	case config.ProviderICS:
		horizon := time.Duration(rc.Calendar.ICSHorizonDays) * hoursPerDay * time.Hour

		return calendar.NewICSSource(rc.Calendar.ICSURL, httpClient, horizon, logger), nil
	case config.ProviderGoogle:
		return newGoogleSource(ctx, rc, httpClient, logger)
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", rc.Calendar.Provider)
	}
}

// newGoogleSource authenticates with the saved token. Token refreshes and
// API calls share httpClient's timeouts.
func newGoogleSource(
	ctx context.Context, rc *config.ResolvedConfig, httpClient *http.Client, logger *slog.Logger,
) (*calendar.GoogleSource, error) {
	oauthCfg, err := googleOAuthConfig(rc)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	ts, err := calendar.TokenSourceFromPath(ctx, oauthCfg, rc.Calendar.TokenFile, logger)
	if err != nil {
		if errors.Is(err, calendar.ErrNotLoggedIn) {
			return nil, errors.New("not logged in: run 'leavesync login' first")
		}

		return nil, err
	}

	return calendar.NewGoogleSource(ctx, rc.Calendar.CalendarID, logger, googleClientOptions(ctx, rc, ts)...)
}

// googleClientOptions authorizes API calls with ts. ctx must carry the
// oauth2.HTTPClient used for refreshes.
func googleClientOptions(ctx context.Context, rc *config.ResolvedConfig, ts oauth2.TokenSource) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if rc.Network.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(rc.Network.UserAgent))
	}

	return opts
}

func googleOAuthConfig(rc *config.ResolvedConfig) (*oauth2.Config, error) {
	if rc.Calendar.ClientSecretFile == "" {
		return nil, errors.New("calendar.client_secret_file is not set (download a desktop OAuth client from the Google Cloud console)")
	}

	return calendar.OAuthConfig(rc.Calendar.ClientSecretFile)
}
