package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"
)

// Limiter admits at most Limit requests per key within any Window
type Limiter struct {
	limit  int
	window time.Duration
	key    func(r *http.Request) string
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time

	sweep *time.Ticker
	done  chan struct{}
	once  sync.Once
}

// LimiterConfig configures a Limiter. Key defaults to ClientIP, Now to time.Now.
type LimiterConfig struct {
	Limit  int
	Window time.Duration
	Key    func(r *http.Request) string
	Now    func() time.Time
}

// NewLimiter creates a Limiter and starts sweeping idle keys every Window
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Limiter{
		limit:  cfg.Limit,
		window: cfg.Window,
		key:    cfg.Key,
		now:    cfg.Now,
		seen:   make(map[string][]time.Time),
		sweep:  time.NewTicker(cfg.Window),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Limiter) run() {
	defer l.sweep.Stop()
	for {
		select {
		case <-l.sweep.C:
			l.mu.Lock()
			now := l.now()
			for key, hits := range l.seen {
				if hits = l.live(hits, now); len(hits) == 0 {
					delete(l.seen, key)
				} else {
					l.seen[key] = hits
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Stop ends the sweeper. It may be called more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// live drops the hits that fell out of the window ending at now
func (l *Limiter) live(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Allow records r against its key. When the key is over its limit it reports
// false and how long until the oldest hit leaves the window.
func (l *Limiter) Allow(r *http.Request) (bool, time.Duration) {
	key := l.key(r)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.live(l.seen[key], now)
	if len(hits) >= l.limit {
		l.seen[key] = hits
		return false, hits[0].Add(l.window).Sub(now)
	}
	l.seen[key] = append(hits, now)
	return true, 0
}

// Middleware rejects requests over the limit with 429
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := l.Allow(r); !ok {
			tooManyRequests(w, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, wait time.Duration) {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ClientIP is the request's remote host without its port. middleware.RealIP
// has already folded X-Real-IP and X-Forwarded-For into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// DetailsKey keys a details request on the client and the aggregate it asks
// for, so one client refreshing a repository does not lock it out of others
func DetailsKey(r *http.Request) string {
	target := chi.URLParam(r, "user") + "/" + chi.URLParam(r, "repo")
	return ClientIP(r) + " " + strings.ToLower(target)
}

// RateLimiters holds the limiters the router installs
type RateLimiters struct {
	Global  *Limiter
	Details *Limiter
}

// NewRateLimiters creates the standard limiters: 100 requests a minute per
// client overall and 10 a minute per client and aggregate on details
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{
		Global: NewLimiter(LimiterConfig{
			Limit:  100,
			Window: time.Minute,
		}),
		Details: NewLimiter(LimiterConfig{
			Limit:  10,
			Window: time.Minute,
			Key:    DetailsKey,
		}),
	}
}

// Stop stops every limiter's sweeper
func (rls *RateLimiters) Stop() {
	rls.Global.Stop()
	rls.Details.Stop()
}

// DetailsGuardMiddleware applies the details limit and then admits at most
// slots requests at once. Rate limited requests get 429 with Retry-After, and
// requests finding every slot taken get 503.
func DetailsGuardMiddleware(l *Limiter, slots int) func(http.Handler) http.Handler {
	sem := semaphore.NewWeighted(int64(slots))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, wait := l.Allow(r); !ok {
				tooManyRequests(w, wait)
				return
			}
			if !sem.TryAcquire(1) {
				http.Error(w, "Server busy, try again shortly", http.StatusServiceUnavailable)
				return
			}
			defer sem.Release(1)
			next.ServeHTTP(w, r)
		})
	}
}
