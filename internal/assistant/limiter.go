package assistant

import (
	"sync"
	"time"
)

// userLimiter is a per-user sliding window counter, scoped per conversation.
type userLimiter struct {
	limit     int
	window    time.Duration
	whitelist map[string]struct{}

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newUserLimiter(limit int, window time.Duration, whitelist []string) *userLimiter {
	l := &userLimiter{
		limit:     limit,
		window:    window,
		whitelist: make(map[string]struct{}, len(whitelist)),
		hits:      make(map[string][]time.Time),
	}
	for _, w := range whitelist {
		l.whitelist[userPart(w)] = struct{}{}
	}
	return l
}

// allow records a request and reports whether it is within the limit. When it
// is not, retryIn is the time until the oldest counted request leaves the window.
func (l *userLimiter) allow(conversationID, senderID string, now time.Time) (ok bool, retryIn time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	if _, white := l.whitelist[userPart(senderID)]; white {
		return true, 0
	}

	key := conversationID + "|" + senderID
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.hits[key][:0:0]
	for _, t := range l.hits[key] {
		if now.Sub(t) < l.window {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false, l.window - now.Sub(recent[0])
	}

	l.hits[key] = append(recent, now)
	return true, 0
}
