package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserIDFromContext returns the caller set by JWTAuthMiddleware
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUserID stores the caller on ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// JWTAuthMiddleware verifies bearer tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeMessage(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		userID, err := h.Tokens.Verify(tokenString)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

const (
	maxTrackedBidders = 10000
	bidderIdleAfter   = 10 * time.Minute
)

type bidderLimit struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// BidLimiter is a per-bidder token bucket. At most maxBidders are tracked;
// past that the least recently seen bidder is forgotten.
type BidLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	maxBidders int
	bidders    map[string]*bidderLimit
	now        func() time.Time
}

// NewBidLimiter allows perSecond bids per bidder with the given burst.
// perSecond <= 0 disables limiting.
func NewBidLimiter(perSecond float64, burst int) *BidLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := rate.Limit(perSecond)
	if perSecond <= 0 {
		l = rate.Inf
	}
	return &BidLimiter{
		limit:      l,
		burst:      burst,
		maxBidders: maxTrackedBidders,
		bidders:    make(map[string]*bidderLimit),
		now:        time.Now,
	}
}

// Allow reports whether bidderID may submit a bid now
func (l *BidLimiter) Allow(bidderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.bidders[bidderID]
	if !ok {
		if len(l.bidders) >= l.maxBidders {
			l.prune(now)
		}
		b = &bidderLimit{lim: rate.NewLimiter(l.limit, l.burst)}
		l.bidders[bidderID] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// prune drops idle bidders, then evicts the least recently seen ones until
// there is room for one more
func (l *BidLimiter) prune(now time.Time) {
	for id, b := range l.bidders {
		if now.Sub(b.lastSeen) > bidderIdleAfter {
			delete(l.bidders, id)
		}
	}
	for len(l.bidders) > 0 && len(l.bidders) >= l.maxBidders {
		var oldestID string
		var oldest time.Time
		found := false
		for id, b := range l.bidders {
			if !found || b.lastSeen.Before(oldest) {
				oldestID, oldest, found = id, b.lastSeen, true
			}
		}
		delete(l.bidders, oldestID)
	}
}

// RateLimitBids rejects bidders that exceed their allowance with 429
func (h *Handler) RateLimitBids(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		if h.Limiter != nil && !h.Limiter.Allow(userID) {
			w.Header().Set("Retry-After", "1")
			writeMessage(w, http.StatusTooManyRequests, "Too many bids")
			return
		}
		next.ServeHTTP(w, r)
	})
}
