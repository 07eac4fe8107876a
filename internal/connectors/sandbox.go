package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Sandbox подменяет обработчик: фиксирует вызов и ничего не делает с системой.
// Режим для проверки политики и подтверждений без побочных эффектов.
type Sandbox struct {
	action     domain.ActionKind
	maxLatency time.Duration
	logger     *zap.Logger
}

func NewSandbox(action domain.ActionKind, maxLatency time.Duration, logger *zap.Logger) *Sandbox {
	return &Sandbox{action: action, maxLatency: maxLatency, logger: logger.Named("sandbox")}
}

func (s *Sandbox) Execute(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	if s.maxLatency > 0 {
		// Имитируем задержку реального вызова
		latency := time.Duration(rand.Int64N(int64(s.maxLatency)))
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return domain.ActionResult{}, ctx.Err()
		}
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		if k != domain.ArgResponse {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, args[k]))
	}

	s.logger.Info("sandbox call intercepted",
		zap.String("action", s.action.String()),
		zap.Strings("args", parts),
	)

	return Ok(fmt.Sprintf("🧪 [sandbox] %s %s: simulated, nothing was executed.",
		s.action, strings.Join(parts, " "))), nil
}
