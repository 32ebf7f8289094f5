package calendar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/tonimelisma/leavesync/internal/tokenfile"
)

// ErrNotLoggedIn is returned when no saved token exists for the calendar.
var ErrNotLoggedIn = errors.New("calendar: not logged in (run 'leavesync login')")

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the path the OAuth2 redirect hits on the loopback server.
const callbackPath = "/"

// shutdownTimeout bounds how long the callback server drains.
const shutdownTimeout = 5 * time.Second

type callbackResult struct {
	code string
	err  error
}

// OAuthConfig builds the OAuth2 client configuration from a Google "desktop
// app" client secret file. The only scope requested is read-only calendar
// access.
func OAuthConfig(clientSecretPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("calendar: reading client secret %s: %w", clientSecretPath, err)
	}

	cfg, err := google.ConfigFromJSON(data, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parsing client secret %s: %w", clientSecretPath, err)
	}

	return cfg, nil
}

// Login runs the authorization code + PKCE flow against a loopback redirect:
// it binds 127.0.0.1 on a random port, hands the authorization URL to
// openURL, waits for the callback, exchanges the code and saves the token at
// tokenPath. If openURL fails, the URL is printed to stderr instead.
//
// The returned TokenSource persists refreshed tokens back to tokenPath. ctx
// must outlive it.
func Login(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (oauth2.TokenSource, error) {
	logger.Info("starting browser auth flow", slog.String("path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	// Copy so the caller's config keeps its own redirect URL.
	flowCfg := *cfg
	flowCfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("calendar: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := flowCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}

		code = result.code
	case <-ctx.Done():
		return nil, fmt.Errorf("calendar: browser auth canceled: %w", ctx.Err())
	}

	tok, err := flowCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("calendar: token exchange failed: %w", err)
	}

	if saveErr := tokenfile.Save(tokenPath, &tokenfile.File{Token: tok}); saveErr != nil {
		return nil, fmt.Errorf("calendar: saving token: %w", saveErr)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newPersistingSource(flowCfg.TokenSource(ctx, tok), tokenPath, "", tok.AccessToken, logger), nil
}

func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("calendar: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("calendar: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("calendar: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: errors.New("calendar: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("calendar: authorization failed: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: errors.New("calendar: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// TokenSourceFromPath loads the saved token at tokenPath and returns a
// refreshing TokenSource that writes refreshed tokens back to disk. Returns
// ErrNotLoggedIn if no token file exists.
func TokenSourceFromPath(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	logger *slog.Logger,
) (oauth2.TokenSource, error) {
	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	logger.Debug("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())),
	)

	return newPersistingSource(cfg.TokenSource(ctx, tf.Token), tokenPath, tf.Account, tf.Token.AccessToken, logger), nil
}

// RecordAccount stores the account name alongside the saved token.
func RecordAccount(tokenPath, account string) error {
	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return err
	}

	if tf == nil {
		return ErrNotLoggedIn
	}

	tf.Account = account

	return tokenfile.Save(tokenPath, tf)
}

// Logout removes the saved token. Already logged out is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	if err := tokenfile.Remove(tokenPath); err != nil {
		return err
	}

	logger.Info("logout: token removed", slog.String("path", tokenPath))

	return nil
}

// persistingSource saves the token to disk whenever the wrapped source hands
// out a new access token.
type persistingSource struct {
	mu      sync.Mutex
	src     oauth2.TokenSource
	path    string
	account string
	last    string
	logger  *slog.Logger
}

func newPersistingSource(src oauth2.TokenSource, path, account, current string, logger *slog.Logger) *persistingSource {
	return &persistingSource{
		src:     src,
		path:    path,
		account: account,
		last:    current,
		logger:  logger,
	}
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		p.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("calendar: obtaining token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.last {
		return tok, nil
	}

	p.last = tok.AccessToken

	if saveErr := tokenfile.Save(p.path, &tokenfile.File{Token: tok, Account: p.account}); saveErr != nil {
		// The in-memory token is still usable.
		p.logger.Warn("failed to persist refreshed token",
			slog.String("path", p.path),
			slog.String("error", saveErr.Error()),
		)

		return tok, nil
	}

	p.logger.Debug("persisted refreshed token",
		slog.String("path", p.path),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}
