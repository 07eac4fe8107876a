package engine

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/infra"
)

// KillSwitchManager: оперативный список заблокированных пользователей.
// Он только запрещает: разрешенный список из конфигурации им не расширить.
// Без Redis (rdb == nil) менеджер пуст и никого не блокирует.
type KillSwitchManager struct {
	mu      sync.RWMutex
	blocked map[domain.Identity]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewKillSwitchManager(rdb *redis.Client, logger *zap.Logger) *KillSwitchManager {
	return &KillSwitchManager{
		blocked: make(map[domain.Identity]struct{}),
		rdb:     rdb,
		logger:  logger.Named("killswitch"),
	}
}

// Init загружает текущее состояние блокировок. seed, статический список из
// конфигурации: он заливается в Redis, если там пусто.
func (m *KillSwitchManager) Init(ctx context.Context, seed []string) error {
	m.apply(seed, false)
	if m.rdb == nil {
		return nil
	}
	if err := m.warmup(ctx, seed); err != nil {
		m.logger.Warn("blocked set warm-up failed", zap.Error(err))
	}
	return m.sync(ctx, seed)
}

// StartListener подписывается на сигналы оператора. Блокирует до отмены ctx.
func (m *KillSwitchManager) StartListener(ctx context.Context, seed []string) {
	if m.rdb == nil {
		return
	}
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanKillSwitch, SignalHandlers{
		Resync: func() error { return m.sync(ctx, seed) },
		Signal: func(id string, blocked bool) {
			m.logger.Warn("kill-switch signal", zap.String("identity", id), zap.Bool("blocked", blocked))
			m.Set(domain.Identity(id), blocked)
		},
	})
}

func (m *KillSwitchManager) IsBlocked(id domain.Identity) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, blocked := m.blocked[id]
	return blocked
}

// Set меняет локальное состояние (сигнал или тест).
func (m *KillSwitchManager) Set(id domain.Identity, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blocked {
		m.blocked[id] = struct{}{}
	} else {
		delete(m.blocked, id)
	}
}

// Blocked: снимок заблокированных.
func (m *KillSwitchManager) Blocked() []domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Identity, 0, len(m.blocked))
	for id := range m.blocked {
		out = append(out, id)
	}
	return out
}

// sync заменяет локальную мапу содержимым множества в Redis.
func (m *KillSwitchManager) sync(ctx context.Context, seed []string) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedIdentities).Result()
	if err != nil {
		return err
	}
	m.apply(append(ids, seed...), true)
	m.logger.Info("blocked identities synced", zap.Int("count", len(ids)))
	return nil
}

func (m *KillSwitchManager) apply(ids []string, replace bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if replace {
		m.blocked = make(map[domain.Identity]struct{}, len(ids))
	}
	for _, id := range ids {
		if id != "" {
			m.blocked[domain.Identity(id)] = struct{}{}
		}
	}
}

// warmup заливает seed в пустое множество Redis. SetNX не дает нескольким
// инстансам делать это одновременно.
func (m *KillSwitchManager) warmup(ctx context.Context, seed []string) error {
	if len(seed) == 0 {
		return nil
	}
	ok, err := m.rdb.SetNX(ctx, infra.RedisKeyLockBlockedIdentities, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return err // либо сеть, либо другой уже греет
	}

	count, err := m.rdb.SCard(ctx, infra.RedisKeyBlockedIdentities).Result()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	m.logger.Info("blocked set is empty, seeding from config", zap.Int("count", len(seed)))
	pipe := m.rdb.Pipeline()
	for _, id := range seed {
		pipe.SAdd(ctx, infra.RedisKeyBlockedIdentities, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
