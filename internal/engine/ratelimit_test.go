package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	l := NewRateLimiter(NewSessionRegistry(), 3, time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.Permit("42", base))
	assert.True(t, l.Permit("42", base.Add(10*time.Second)))
	assert.True(t, l.Permit("42", base.Add(20*time.Second)))
	assert.False(t, l.Permit("42", base.Add(30*time.Second)))

	// отказ не занимает место в окне: ровно через минуту после первого слот свободен
	assert.True(t, l.Permit("42", base.Add(time.Minute)))
	assert.False(t, l.Permit("42", base.Add(time.Minute+time.Second)))
	assert.Equal(t, 0, l.Remaining("42", base.Add(time.Minute+time.Second)))
}

func TestRateLimiter_PerIdentity(t *testing.T) {
	l := NewRateLimiter(NewSessionRegistry(), 1, time.Minute)
	now := time.Now()

	assert.True(t, l.Permit("42", now))
	assert.False(t, l.Permit("42", now))
	assert.True(t, l.Permit("99", now))
}

func TestRateLimiter_SweepReleasesSessions(t *testing.T) {
	sessions := NewSessionRegistry()
	l := NewRateLimiter(sessions, 5, time.Minute)
	now := time.Now()

	l.Permit("42", now)
	l.Permit("99", now)
	assert.Equal(t, 2, sessions.Len())

	l.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 0, sessions.Len())
}

func TestRateLimiter_Concurrent(t *testing.T) {
	const limit = 10
	l := NewRateLimiter(NewSessionRegistry(), limit, time.Minute)
	now := time.Now()

	var permitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Permit("42", now) {
				permitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), permitted.Load())
}

// В любом окне длиной window разрешено не больше limit запросов.
func TestRateLimiter_NeverExceedsLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("permitted requests in any window never exceed the limit", prop.ForAll(
		func(limit int, gaps []int) bool {
			window := 10 * time.Second
			l := NewRateLimiter(NewSessionRegistry(), limit, window)

			now := time.Unix(0, 0)
			var accepted []time.Time
			for _, g := range gaps {
				now = now.Add(time.Duration(g) * time.Second)
				if l.Permit(domain.Identity("42"), now) {
					accepted = append(accepted, now)
				}
			}

			for i := range accepted {
				n := 0
				for j := i; j < len(accepted) && accepted[j].Sub(accepted[i]) < window; j++ {
					n++
				}
				if n > limit {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.SliceOf(gen.IntRange(0, 6)),
	))

	properties.TestingRun(t)
}
