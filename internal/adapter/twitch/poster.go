package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/whispercmd/internal/domain"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPostTimeout = 10 * time.Second
	defaultIDCacheTTL  = time.Hour
	breakerName        = "helix-whispers"
)

// CacheObserver is notified about recipient ID cache lookups.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
	CacheExpired()
}

// BreakerObserver is notified when the Helix circuit breaker changes state.
type BreakerObserver interface {
	ObserveStateChange(name, state string, level int)
}

type nopObserver struct{}

func (nopObserver) CacheHit()                              {}
func (nopObserver) CacheMiss()                             {}
func (nopObserver) CacheExpired()                          {}
func (nopObserver) ObserveStateChange(string, string, int) {}

type cachedID struct {
	id      string
	expires time.Time
}

// WhisperPoster implements domain.Poster by sending Twitch whispers from the
// bot account. Recipients are addressed by login and resolved to user IDs,
// which are cached for a while.
type WhisperPoster struct {
	api        WhisperAPI
	fromUserID string

	clock    clockwork.Clock
	timeout  time.Duration
	ttl      time.Duration
	cacheObs CacheObserver
	breakObs BreakerObserver
	breaker  *gobreaker.CircuitBreaker

	mu      sync.Mutex
	ids     map[string]cachedID
	lookups singleflight.Group
}

type PosterOption func(*WhisperPoster)

func WithPosterClock(clock clockwork.Clock) PosterOption {
	return func(p *WhisperPoster) { p.clock = clock }
}

// WithPostTimeout bounds a single Post, including the ID lookup.
func WithPostTimeout(d time.Duration) PosterOption {
	return func(p *WhisperPoster) { p.timeout = d }
}

func WithIDCacheTTL(d time.Duration) PosterOption {
	return func(p *WhisperPoster) { p.ttl = d }
}

func WithCacheObserver(o CacheObserver) PosterOption {
	return func(p *WhisperPoster) { p.cacheObs = o }
}

func WithBreakerObserver(o BreakerObserver) PosterOption {
	return func(p *WhisperPoster) { p.breakObs = o }
}

func NewWhisperPoster(api WhisperAPI, fromUserID string, opts ...PosterOption) *WhisperPoster {
	p := &WhisperPoster{
		api:        api,
		fromUserID: fromUserID,
		clock:      clockwork.NewRealClock(),
		timeout:    defaultPostTimeout,
		ttl:        defaultIDCacheTTL,
		cacheObs:   nopObserver{},
		breakObs:   nopObserver{},
		ids:        make(map[string]cachedID),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// an unknown login says nothing about Helix health
			return err == nil || errors.Is(err, domain.ErrRecipientNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			p.breakObs.ObserveStateChange(name, to.String(), stateLevel(to))
		},
	})
	return p
}

func stateLevel(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// State returns the breaker state, for health checks.
func (p *WhisperPoster) State() gobreaker.State {
	return p.breaker.State()
}

// Post whispers params.Text to the account named params.ScreenName.
func (p *WhisperPoster) Post(ctx context.Context, endpoint string, params domain.PostParams) error {
	if endpoint != domain.EndpointDirectMessagesNew {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEndpoint, endpoint)
	}
	if params.ScreenName == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.breaker.Execute(func() (any, error) {
		toID, err := p.resolve(ctx, params.ScreenName)
		if err != nil {
			return nil, err
		}
		return nil, p.api.SendWhisper(ctx, p.fromUserID, toID, params.Text)
	})
	if err != nil {
		return fmt.Errorf("whisper to %s: %w", params.ScreenName, err)
	}
	return nil
}

func (p *WhisperPoster) resolve(ctx context.Context, login string) (string, error) {
	key := strings.ToLower(login)
	now := p.clock.Now()

	p.mu.Lock()
	entry, ok := p.ids[key]
	if ok && now.After(entry.expires) {
		delete(p.ids, key)
		ok = false
		p.cacheObs.CacheExpired()
	}
	p.mu.Unlock()

	if ok {
		p.cacheObs.CacheHit()
		return entry.id, nil
	}
	p.cacheObs.CacheMiss()

	// concurrent send chains to the same login share one lookup, so it runs
	// on its own deadline instead of the first caller's
	v, err, _ := p.lookups.Do(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		ids, err := p.api.LookupUserIDs(lookupCtx, []string{key})
		if err != nil {
			return "", err
		}
		id, found := ids[key]
		if !found {
			return "", fmt.Errorf("%w: %s", domain.ErrRecipientNotFound, login)
		}

		p.mu.Lock()
		p.ids[key] = cachedID{id: id, expires: p.clock.Now().Add(p.ttl)}
		p.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
