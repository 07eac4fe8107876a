package engine

import (
	"time"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// RateLimiter держит скользящее окно на пользователя, не больше limit запросов
// за последние window. Окно живет в сессии пользователя.
type RateLimiter struct {
	sessions *SessionRegistry
	limit    int
	window   time.Duration
}

func NewRateLimiter(sessions *SessionRegistry, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{sessions: sessions, limit: limit, window: window}
}

// Permit пропускает запрос и запоминает его время, либо отказывает,
// ничего не добавляя в окно.
func (l *RateLimiter) Permit(id domain.Identity, now time.Time) bool {
	var ok bool
	l.sessions.With(id, func(s *Session) {
		ok = l.permitLocked(s, now)
	})
	return ok
}

// Remaining: сколько запросов еще поместится в окно.
func (l *RateLimiter) Remaining(id domain.Identity, now time.Time) int {
	var n int
	l.sessions.With(id, func(s *Session) {
		l.pruneLocked(s, now)
		n = l.limit - len(s.window)
	})
	if n < 0 {
		return 0
	}
	return n
}

func (l *RateLimiter) permitLocked(s *Session, now time.Time) bool {
	l.pruneLocked(s, now)
	if len(s.window) >= l.limit {
		return false
	}
	s.window = append(s.window, now)
	return true
}

// pruneLocked выбрасывает отметки старше now-window. Отметки могут прийти
// не по порядку (now считается до захвата замка), поэтому фильтруем все окно.
func (l *RateLimiter) pruneLocked(s *Session, now time.Time) {
	cutoff := now.Add(-l.window)
	kept := s.window[:0]
	for _, ts := range s.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	// не держим старый хвост массива
	for i := len(kept); i < len(s.window); i++ {
		s.window[i] = time.Time{}
	}
	s.window = kept
	if len(s.window) == 0 {
		s.window = nil
	}
}

// Sweep чистит окна всех пользователей, чтобы пустые сессии освобождались.
func (l *RateLimiter) Sweep(now time.Time) {
	for _, id := range l.sessions.Identities() {
		l.sessions.With(id, func(s *Session) {
			l.pruneLocked(s, now)
		})
	}
}
