package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	ScopeRead  = "READSYSTEM"
	ScopeWrite = "WRITESYSTEM"
)

var (
	ErrNotAuthorized = errors.New("session not authorized")
	ErrScopeMismatch = errors.New("oauth scope mismatch")
)

// Config wires a Session against the vendor's OAuth2 endpoints.
type Config struct {
	Bootstrap    Bootstrap
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	StatePath    string
	Blob         BlobStore // optional mirror, may be nil
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Session holds the auto-refreshing cloud API credentials. It is the single
// writer of persisted credential state: refresh and code exchange are
// serialized on one mutex, so a manual exchange can never race an automatic
// refresh.
type Session struct {
	cfg       *oauth2.Config
	scope     string
	statePath string
	blob      BlobStore
	http      *http.Client
	log       *zap.Logger

	exchangeMu sync.Mutex

	mu    sync.Mutex
	token oauth2.Token

	authorizedOnce sync.Once
	authorizedCh   chan struct{}
}

func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Bootstrap.Validate(); err != nil {
		return nil, err
	}
	if cfg.TokenURL == "" || cfg.AuthorizeURL == "" {
		return nil, fmt.Errorf("authorize and token URLs are required")
	}
	if cfg.StatePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		cfg: &oauth2.Config{
			ClientID:     cfg.Bootstrap.ClientID,
			ClientSecret: cfg.Bootstrap.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL,
				TokenURL: cfg.TokenURL,
				// Nibe takes credentials in the request body; pinning the
				// style stops the library from re-posting with the other
				// placement when a grant is rejected.
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		scope:        strings.Join(cfg.Scopes, " "),
		statePath:    cfg.StatePath,
		blob:         cfg.Blob,
		http:         httpClient,
		log:          log,
		authorizedCh: make(chan struct{}),
	}

	if err := s.loadInitialState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) loadInitialState() error {
	state, err := LoadState(s.statePath)
	if errors.Is(err, ErrStateNotFound) && s.blob != nil {
		var data []byte
		data, err = s.blob.Load(context.Background())
		if errors.Is(err, ErrBlobNotFound) {
			return nil // first run, authorization flow required
		}
		if err != nil {
			return fmt.Errorf("load credential mirror: %w", err)
		}
		state, err = DecodeState(data)
		if err == nil {
			// Restore the local copy so the next start does not depend
			// on the mirror being reachable.
			if werr := WriteState(s.statePath, state); werr != nil {
				s.log.Warn("could not restore local credential state", zap.Error(werr))
			}
		}
	}
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if state.Scope != "" && state.Scope != s.scope {
		scopeMismatch.Inc()
		return ErrScopeMismatch
	}

	s.install(&oauth2.Token{
		AccessToken:  state.AccessToken,
		RefreshToken: state.RefreshToken,
		TokenType:    state.TokenType,
		Expiry:       state.ExpiresAt,
	})
	return nil
}

// Authorized reports whether the session holds a refresh token.
func (s *Session) Authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.RefreshToken != ""
}

// AuthorizedSignal is closed the first time the session becomes authorized.
func (s *Session) AuthorizedSignal() <-chan struct{} {
	return s.authorizedCh
}

// AuthCodeURL builds the vendor authorize URL for the given correlation
// state token.
func (s *Session) AuthCodeURL(state string) string {
	return s.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems an authorization code for tokens and persists them.
// Codes are single use by protocol, so the exchange is never retried.
func (s *Session) Exchange(ctx context.Context, code string) error {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http)
	token, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		exchangeFailure.Inc()
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return fmt.Errorf("code exchange failed %d: %s",
				rerr.Response.StatusCode, strings.TrimSpace(string(rerr.Body)))
		}
		return fmt.Errorf("code exchange: %w", err)
	}
	if token.RefreshToken == "" {
		exchangeFailure.Inc()
		return fmt.Errorf("token endpoint returned no refresh_token")
	}

	s.install(token)
	s.persist(ctx)
	tokenValid.Set(1)
	return nil
}

// Token returns a valid access token, refreshing it first when needed.
func (s *Session) Token(ctx context.Context) (string, error) {
	if tok, ok := s.current(); ok {
		return tok, nil
	}
	return s.refresh(ctx)
}

func (s *Session) current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token.AccessToken != "" && time.Until(s.token.Expiry) > 30*time.Second {
		return s.token.AccessToken, true
	}
	return "", false
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	// Another caller may have refreshed while we waited for the guard.
	if tok, ok := s.current(); ok {
		return tok, nil
	}

	s.mu.Lock()
	refreshToken := s.token.RefreshToken
	s.mu.Unlock()
	if refreshToken == "" {
		return "", ErrNotAuthorized
	}

	op := func() (*oauth2.Token, error) {
		c := context.WithValue(ctx, oauth2.HTTPClient, s.http)
		token, err := s.cfg.TokenSource(c, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) && rerr.Response.StatusCode < http.StatusInternalServerError &&
				rerr.Response.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return token, nil
	}

	token, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		refreshFailure.Inc()
		tokenValid.Set(0)
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return "", fmt.Errorf("token refresh failed %d: %s",
				rerr.Response.StatusCode, strings.TrimSpace(string(rerr.Body)))
		}
		return "", fmt.Errorf("token refresh: %w", err)
	}

	s.install(token)
	s.persist(ctx)
	refreshSuccess.Inc()
	tokenValid.Set(1)
	return token.AccessToken, nil
}

func (s *Session) install(token *oauth2.Token) {
	s.mu.Lock()
	s.token.AccessToken = token.AccessToken
	s.token.TokenType = token.TokenType
	s.token.Expiry = token.Expiry
	if token.RefreshToken != "" {
		s.token.RefreshToken = token.RefreshToken
	}
	authorized := s.token.RefreshToken != ""
	s.mu.Unlock()

	if authorized {
		s.authorizedOnce.Do(func() { close(s.authorizedCh) })
	}
}

// persist writes the credentials through every configured hook. A failed
// write keeps the in-memory session working for this process lifetime but
// logs loudly: a restart would force re-authorization.
func (s *Session) persist(ctx context.Context) {
	s.mu.Lock()
	state := State{
		SchemaVersion: SchemaVersion,
		AccessToken:   s.token.AccessToken,
		RefreshToken:  s.token.RefreshToken,
		TokenType:     s.token.TokenType,
		Scope:         s.scope,
		ExpiresAt:     s.token.Expiry,
	}
	s.mu.Unlock()

	ok := true
	if err := WriteState(s.statePath, state); err != nil {
		ok = false
		s.log.Error("credential persistence failed; re-authorization will be required after restart",
			zap.String("path", s.statePath), zap.Error(err))
	}
	if s.blob != nil {
		data, err := json.MarshalIndent(state, "", "  ")
		if err == nil {
			err = s.blob.Save(ctx, data)
		}
		if err != nil {
			ok = false
			s.log.Error("credential mirror persistence failed", zap.Error(err))
		}
	}
	if ok {
		persistOK.Set(1)
	} else {
		persistOK.Set(0)
	}
}
