package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mwieland/graphmail/internal/instrumentation"
	"github.com/mwieland/graphmail/internal/logging"
)

// ErrAuthExpired means the current token is expired and no refresh path
// exists. The caller must re-run the interactive login.
var ErrAuthExpired = errors.New("authentication expired, run 'graphmail login' to sign in again")

// DefaultExpiryMargin is subtracted from the token expiry when deciding
// validity, so a token is never used right at the edge of its lifetime.
const DefaultExpiryMargin = 5 * time.Minute

// Token is a provider credential: an opaque access token, its expiry, and
// an optional refresh token.
type Token struct {
	AccessToken  string    `json:"access_token"`
	Expiry       time.Time `json:"expiry"`
	RefreshToken string    `json:"refresh_token,omitempty"`
}

// ValidAt reports whether the token is usable at the given instant with
// the given safety margin.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.Expiry.Add(-margin))
}

// Refresher exchanges a refresh token for a fresh Token. The OAuth
// implementation lives in refresher.go; tests inject fakes.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// Persister stores a token outside the process so it survives restarts.
// FileCache is the on-disk implementation.
type Persister interface {
	Save(token Token) error
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithExpiryMargin overrides the safety margin used for validity checks.
func WithExpiryMargin(margin time.Duration) StoreOption {
	return func(s *Store) { s.margin = margin }
}

// WithPersister enables persistence of refreshed tokens.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persist = p }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for refresh events.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics enables refresh-attempt metrics. A nil recorder is a no-op.
func WithMetrics(metrics *instrumentation.Metrics) StoreOption {
	return func(s *Store) { s.metrics = metrics }
}

// Store holds the current provider token and serializes refreshes:
// concurrent callers that find the token expired share a single underlying
// refresh instead of each performing their own.
type Store struct {
	refresher Refresher
	persist   Persister
	margin    time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *instrumentation.Metrics

	group singleflight.Group

	mu    sync.RWMutex
	token Token
}

// NewStore creates a token store. The initial token may be the zero value;
// the first EnsureValid then refreshes (or fails with ErrAuthExpired when
// no refresh token is present either).
func NewStore(initial Token, refresher Refresher, opts ...StoreOption) *Store {
	s := &Store{
		refresher: refresher,
		margin:    DefaultExpiryMargin,
		now:       time.Now,
		logger:    slog.Default(),
		token:     initial,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the stored token without any validity check.
func (s *Store) Current() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Install atomically replaces the stored token. It is used after an
// interactive login and after every refresh.
func (s *Store) Install(token Token) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// EnsureValid returns the current token if it is still valid, refreshing
// it first otherwise. Concurrent callers on an expired token trigger
// exactly one refresh; all of them receive the refreshed token.
func (s *Store) EnsureValid(ctx context.Context) (Token, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token.ValidAt(s.now(), s.margin) {
		return token, nil
	}

	// The flight is shared by every waiter; it must not die with the
	// first caller's context.
	refreshCtx := context.WithoutCancel(ctx)
	result, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refreshLocked(refreshCtx)
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

func (s *Store) refreshLocked(ctx context.Context) (Token, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	// Another caller may have refreshed while we queued for the flight.
	if token.ValidAt(s.now(), s.margin) {
		return token, nil
	}

	if token.RefreshToken == "" || s.refresher == nil {
		s.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultExpired)
		return Token{}, ErrAuthExpired
	}

	fresh, err := s.refresher.Refresh(ctx, token.RefreshToken)
	if err != nil {
		s.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		return Token{}, fmt.Errorf("token refresh failed: %w", err)
	}
	s.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultSuccess)
	if fresh.RefreshToken == "" {
		// Providers may omit the refresh token on rotation; keep the old one.
		fresh.RefreshToken = token.RefreshToken
	}

	s.Install(fresh)
	s.logger.Info("access token refreshed",
		slog.Time("expiry", fresh.Expiry),
		slog.String("token", logging.SanitizeToken(fresh.AccessToken)))

	if s.persist != nil {
		if err := s.persist.Save(fresh); err != nil {
			// Persistence is best effort; the in-memory token is authoritative.
			s.logger.Warn("failed to persist refreshed token", logging.Err(err))
		}
	}
	return fresh, nil
}
