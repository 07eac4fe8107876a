package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "rcg"
)

// Ключи для Sets (состояние)
const (
	RedisKeyBlockedIdentities = RedisNamespace + ":identities:blocked_set"

	// RedisKeyLockBlockedIdentities: замок прогрева множества из конфигурации.
	RedisKeyLockBlockedIdentities = RedisNamespace + ":identities:lock:warmup"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanKillSwitch: сигналы "identity:true|false" от оператора.
	RedisChanKillSwitch = RedisNamespace + ":identities:kill-switch-signal"
)
