package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	resubscribeMin = time.Second
	resubscribeMax = 30 * time.Second
)

// SignalHandlers: колбэки подписки на сигналы блокировки.
type SignalHandlers struct {
	// Resync перечитывает полное состояние: пока подписки не было, сигналы могли потеряться
	Resync func() error
	Signal func(id string, blocked bool)
}

// ListenStateResilient держит подписку на канал сигналов вида "id:true|false"
// до отмены ctx. После обрыва переподписывается с растущей паузой.
func ListenStateResilient(ctx context.Context, rdb *redis.Client, logger *zap.Logger, channel string, h SignalHandlers) {
	log := logger.With(zap.String("chan", channel))
	pause := resubscribeMin

	for ctx.Err() == nil {
		if err := consumeSignals(ctx, rdb, log, channel, h); err != nil {
			log.Error("signal subscription lost", zap.Error(err), zap.Duration("retry_in", pause))
			if !sleepCtx(ctx, pause) {
				return
			}
			pause = min(pause*2, resubscribeMax)
			continue
		}
		pause = resubscribeMin
		if !sleepCtx(ctx, pause) {
			return
		}
	}
}

// consumeSignals: одна сессия подписки. nil означает штатное закрытие канала.
func consumeSignals(ctx context.Context, rdb *redis.Client, log *zap.Logger, channel string, h SignalHandlers) error {
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if h.Resync != nil {
		if err := h.Resync(); err != nil {
			log.Error("kill-switch resync failed", zap.Error(err))
		}
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			id, blocked, ok := parseSignal(msg.Payload)
			if !ok {
				log.Warn("malformed kill-switch signal", zap.String("payload", msg.Payload))
				continue
			}
			h.Signal(id, blocked)
		}
	}
}

// parseSignal разбирает "id:status". В идентификаторе может быть ':', режем по последнему.
// Неизвестный статус считается битым сигналом, а не снятием блокировки.
func parseSignal(payload string) (id string, blocked, ok bool) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 || i == len(payload)-1 {
		return "", false, false
	}
	switch strings.ToLower(payload[i+1:]) {
	case "true", "on", "1":
		return payload[:i], true, true
	case "false", "off", "0":
		return payload[:i], false, true
	default:
		return "", false, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
