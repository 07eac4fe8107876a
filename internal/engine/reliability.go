package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/remote-command-gateway/internal/connectors"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// ReliabilityConfig: параметры обертки вокруг обработчика.
type ReliabilityConfig struct {
	CallTimeout   time.Duration
	RetryAttempts uint
	RetryDelay    time.Duration
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RatePerSecond float64
	RateBurst     int

	// ActionTimeouts переопределяет CallTimeout для отдельных действий
	ActionTimeouts map[domain.ActionKind]time.Duration
}

// ReliabilityWrapper: rate limiter, предохранитель и повторы вокруг одного обработчика.
// Повторяются только TransientError: обычный сбой мог уже произвести побочный эффект.
type ReliabilityWrapper struct {
	action  domain.ActionKind
	next    connectors.Handler
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
}

func NewReliabilityWrapper(action domain.ActionKind, next connectors.Handler, cfg ReliabilityConfig, metrics *Metrics) *ReliabilityWrapper {
	if t, ok := cfg.ActionTimeouts[action]; ok {
		cfg.CallTimeout = t
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1 // 0 у retry-go значит "бесконечно"
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rcg-" + action.String(),
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд, открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		// Отказ политики обработчика (нет файла и т.п.), не поломка зависимости
		IsSuccessful: func(err error) bool {
			return err == nil || !(connectors.IsTransient(err) || errors.Is(err, context.DeadlineExceeded))
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(action.String()).Set(breakerStateValue(to))
			}
		},
	})

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &ReliabilityWrapper{
		action:  action,
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		cfg:     cfg,
	}
}

func (w *ReliabilityWrapper) Execute(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return domain.ActionResult{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		var res domain.ActionResult

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.RetryAttempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(connectors.IsTransient),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Обработчик сам знает, когда повторять (например, ресурс занят)
				var tErr *connectors.TransientError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
			retry.Delay(w.cfg.RetryDelay),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := w.callContext(ctx)
			defer cancel()

			var callErr error
			res, callErr = w.next.Execute(tCtx, args)
			if callErr == nil && tCtx.Err() != nil {
				// обработчик проигнорировал контекст и вернулся после дедлайна
				callErr = tCtx.Err()
			}
			return callErr
		})

		return res, retryErr
	})

	if err != nil {
		return domain.ActionResult{}, err
	}

	return cbResult.(domain.ActionResult), nil
}

// State: текущее состояние предохранителя.
func (w *ReliabilityWrapper) State() gobreaker.State { return w.cb.State() }

func (w *ReliabilityWrapper) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.CallTimeout)
}

// breakerStateValue: 0 - закрыт, 1 - разомкнут, 2 - полуоткрыт.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
