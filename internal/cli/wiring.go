package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/connectors"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/engine"
	"github.com/xela07ax/remote-command-gateway/internal/infra"
	"github.com/xela07ax/remote-command-gateway/internal/interpreter"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
	"github.com/xela07ax/remote-command-gateway/internal/policy"
	"github.com/xela07ax/remote-command-gateway/internal/repository/postgres"
	"github.com/xela07ax/remote-command-gateway/internal/repository/sqlite"
)

// core: части конвейера, которые собираются без внешних ресурсов.
// Их же собирает `gateway check`, чтобы проверить конфигурацию.
type core struct {
	enforcer    *policy.TableEnforcer
	router      *engine.Router
	interpreter *interpreter.Service
	ollama      *interpreter.OllamaClassifier
	tokenGated  map[domain.ActionKind]struct{}
	destructive map[domain.ActionKind]struct{}
}

// stores: хранилища, которые нужны обработчикам. Любое поле может быть nil,
// тогда соответствующие действия отвечают "недоступно".
type stores struct {
	memory memory.Store
	stats  audit.StatsReader
}

func buildCore(cfg *infra.Config, logger *zap.Logger, metrics *engine.Metrics, st stores, extra ...connectors.StatusSource) (*core, error) {
	destructive, err := policy.ParseActions(cfg.Gateway.DestructiveActions)
	if err != nil {
		return nil, fmt.Errorf("gateway.destructive_actions: %w", err)
	}
	tokenGated, err := policy.ParseActions(cfg.Gateway.TokenGatedActions)
	if err != nil {
		return nil, fmt.Errorf("gateway.token_gated_actions: %w", err)
	}

	enforcer, err := policy.NewTableEnforcer(policy.DefaultRules(), policy.Rules{
		AllowedDirs:        cfg.Policy.AllowedDirs,
		Apps:               keys(cfg.Policy.Apps),
		Scripts:            keys(cfg.Policy.Scripts),
		ProtectedProcesses: cfg.Policy.ProtectedProcesses,
	})
	if err != nil {
		return nil, err
	}

	ollama := interpreter.NewOllamaClassifier(interpreter.OllamaConfig{
		BaseURL:     cfg.Interpreter.BaseURL,
		Model:       cfg.Interpreter.Model,
		Timeout:     cfg.Interpreter.Timeout,
		Temperature: cfg.Interpreter.Temperature,
	}, logger)

	schema, err := interpreter.NewActionSchema()
	if err != nil {
		return nil, fmt.Errorf("action schema: %w", err)
	}

	sources := append([]connectors.StatusSource{modelStatus(cfg.Interpreter.Model, ollama)}, extra...)

	var runner connectors.Runner = connectors.ExecRunner{}
	handlers := connectors.Build(connectors.Deps{
		Paths:          enforcer.Paths(),
		ScriptsDir:     policy.NewPathResolver([]string{cfg.Policy.ScriptsDir}),
		Apps:           cfg.Policy.Apps,
		Scripts:        cfg.Policy.Scripts,
		Runner:         runner,
		Capturer:       connectors.NewCommandCapturer(cfg.Handlers.ScreenshotCommand, runner),
		MaxReadBytes:   cfg.Handlers.MaxReadBytes,
		MaxSendBytes:   cfg.Handlers.MaxSendBytes,
		ScreenshotDir:  cfg.Handlers.ScreenshotDir,
		ScreenshotKeep: cfg.Handlers.ScreenshotKeep,
		Started:        time.Now(),
		Sandbox:        cfg.Handlers.Sandbox,
		SandboxLatency: cfg.Handlers.SandboxLatency,
		StatusSource:   sources,
		Notes:          st.memory,
		History:        st.memory,
		Stats:          st.stats,
	}, logger)

	router, err := engine.NewRouter(engine.Wrap(handlers, engine.ReliabilityConfig{
		CallTimeout:   cfg.Handlers.CallTimeout,
		RetryAttempts: cfg.Handlers.RetryAttempts,
		RetryDelay:    cfg.Handlers.RetryDelay,
		CBMaxRequests: cfg.Handlers.CBMaxRequests,
		CBInterval:    cfg.Handlers.CBInterval,
		CBTimeout:     cfg.Handlers.CBTimeout,
		RatePerSecond: cfg.Handlers.RatePerSecond,
		RateBurst:     cfg.Handlers.RateBurst,
		ActionTimeouts: map[domain.ActionKind]time.Duration{
			domain.ActionRunScript: cfg.Handlers.ScriptTimeout,
		},
	}, metrics), logger, metrics)
	if err != nil {
		return nil, err
	}

	svc := interpreter.NewService(ollama, schema, interpreter.Config{
		MaxInputLength: cfg.Gateway.MaxInputLength,
		MinConfidence:  cfg.Interpreter.MinConfidence,
		Destructive:    destructive,
		History:        st.memory,
		HistoryTurns:   cfg.Memory.HistoryTurns,
		HistoryChars:   cfg.Memory.HistoryChars,
	}, logger)

	return &core{
		enforcer:    enforcer,
		router:      router,
		interpreter: svc,
		ollama:      ollama,
		tokenGated:  tokenGated,
		destructive: destructive,
	}, nil
}

// auditStore объединяет запись для AgentFS и чтение для CLI/API.
type auditStore interface {
	audit.StorageInterface
	audit.Reader
	audit.StatsReader
	Close() error
}

// memoryStore: sqlite-хранилище истории и заметок.
type memoryStore interface {
	memory.Store
	Close() error
}

// openMemoryStore возвращает nil, nil, если память выключена.
func openMemoryStore(cfg infra.MemoryConfig) (memoryStore, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	repo, err := sqlite.OpenMemoryRepo(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return repo, nil
}

func openAuditStore(ctx context.Context, cfg infra.AuditConfig) (auditStore, error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := postgres.OpenAuditRepo(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "sqlite":
		repo, err := sqlite.OpenAuditRepo(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", cfg.Driver)
	}
}

func newRedisClient(cfg infra.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func modelStatus(model string, c *interpreter.OllamaClassifier) connectors.StatusSource {
	return func(ctx context.Context) []string {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		state := "offline"
		if c.Available(ctx) {
			state = "online"
		}
		return []string{fmt.Sprintf("🧠 Model: %s (%s)", model, state)}
	}
}

func blockedStatus(ksm *engine.KillSwitchManager) connectors.StatusSource {
	return func(context.Context) []string {
		return []string{fmt.Sprintf("🛑 Blocked identities: %d", len(ksm.Blocked()))}
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
