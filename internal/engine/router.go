package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/connectors"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Router - единственная точка исполнения, по одному обработчику на действие.
type Router struct {
	handlers map[domain.ActionKind]connectors.Handler
	logger   *zap.Logger
	metrics  *Metrics
}

// NewRouter падает, если хоть одному действию не назначен обработчик.
func NewRouter(handlers map[domain.ActionKind]connectors.Handler, logger *zap.Logger, metrics *Metrics) (*Router, error) {
	var missing []string
	for _, a := range domain.ActionKinds() {
		if h, ok := handlers[a]; !ok || h == nil {
			missing = append(missing, a.String())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("router has no handler for actions %v", missing)
	}
	for a := range handlers {
		if !a.Valid() {
			return nil, fmt.Errorf("router has handler for unknown action %d", int(a))
		}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	r := &Router{
		handlers: make(map[domain.ActionKind]connectors.Handler, len(handlers)),
		logger:   logger.Named("router"),
		metrics:  metrics,
	}
	for a, h := range handlers {
		r.handlers[a] = h
	}
	return r, nil
}

// Wrap оборачивает каждый обработчик в ReliabilityWrapper.
func Wrap(handlers map[domain.ActionKind]connectors.Handler, cfg ReliabilityConfig, metrics *Metrics) map[domain.ActionKind]connectors.Handler {
	out := make(map[domain.ActionKind]connectors.Handler, len(handlers))
	for a, h := range handlers {
		out[a] = NewReliabilityWrapper(a, h, cfg, metrics)
	}
	return out
}

// Dispatch исполняет намерение и всегда возвращает структурированный результат.
// Отмена ctx транспортом не прерывает уже начатый побочный эффект.
func (r *Router) Dispatch(ctx context.Context, intent domain.Intent) (res domain.ActionResult) {
	action := intent.Action()
	h := r.handlers[action]
	if h == nil {
		// после NewRouter недостижимо
		return domain.ActionResult{Error: domain.ErrorHandlerFailure, Output: "unsupported action"}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic",
				zap.String("action", action.String()),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			res = domain.ActionResult{Error: domain.ErrorHandlerFailure, Output: "the action failed"}
		}
		r.metrics.HandlerDuration.
			WithLabelValues(action.String(), fmt.Sprint(res.Success)).
			Observe(time.Since(start).Seconds())
	}()

	out, err := h.Execute(context.WithoutCancel(ctx), intent.Arguments())
	if err != nil {
		kind := classifyHandlerError(err)
		r.logger.Error("handler failed",
			zap.String("action", action.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return domain.ActionResult{Error: kind, Output: handlerSummary(kind, err)}
	}

	out.Success = true
	out.Error = domain.ErrorNone
	return out
}

func classifyHandlerError(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, connectors.ErrUnavailable):
		return domain.ErrorUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorTimeout
	default:
		return domain.ErrorHandlerFailure
	}
}

func handlerSummary(kind domain.ErrorKind, err error) string {
	switch kind {
	case domain.ErrorTimeout:
		return "the action timed out"
	case domain.ErrorUnavailable:
		if errors.Is(err, connectors.ErrUnavailable) {
			return connectors.Summary(err)
		}
		return "the action is temporarily unavailable"
	default:
		return connectors.Summary(err)
	}
}
