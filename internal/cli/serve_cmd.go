package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/engine"
	"github.com/xela07ax/remote-command-gateway/internal/infra"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
	"github.com/xela07ax/remote-command-gateway/internal/transport/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway with its local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := infra.NewLogger(cfg.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cfg, logger)
		},
	}
}

func serve(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для фоновых горутин: слушатель kill-switch, уборщик подтверждений
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Control Plane: kill-switch поверх Redis (если настроен)
	rdb := newRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}
	ksm := engine.NewKillSwitchManager(rdb, logger)
	if err := ksm.Init(appCtx, cfg.Gateway.BlockedIdentities); err != nil {
		logger.Fatal("failed to init kill-switch manager", zap.Error(err))
	}
	go ksm.StartListener(appCtx, cfg.Gateway.BlockedIdentities)

	// 3. Хранилища: аудит пачками в sqlite/postgres, история и заметки в sqlite
	store, err := openAuditStore(appCtx, cfg.Audit)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.String("driver", cfg.Audit.Driver), zap.Error(err))
	}
	defer store.Close()

	mem, err := openMemoryStore(cfg.Memory)
	if err != nil {
		logger.Fatal("failed to open memory store", zap.Error(err))
	}
	var conversation memory.History
	if mem != nil {
		defer mem.Close()
		conversation = mem
	} else {
		logger.Info("conversation memory disabled")
	}

	// 4. Политика, обработчики, роутер, интерпретатор
	c, err := buildCore(cfg, logger, metrics, stores{memory: mem, stats: store}, blockedStatus(ksm))
	if err != nil {
		logger.Fatal("failed to build gateway core", zap.Error(err))
	}

	auditor := audit.NewAgentFS(store, audit.Options{
		BufferSize:       cfg.Audit.BufferSize,
		BatchSize:        cfg.Audit.BatchSize,
		FlushInterval:    cfg.Audit.FlushInterval,
		MaxFlushAttempts: cfg.Audit.MaxFlushAttempts,
	}, metrics, logger)
	if err := auditor.Start(appCtx); err != nil {
		logger.Fatal("failed to start auditor", zap.Error(err))
	}
	defer auditor.Stop()

	// 5. Сборка конвейера
	sessions := engine.NewSessionRegistry()
	tokens := engine.NewTokenGate(cfg.Gateway.CommandToken, cfg.Gateway.CommandTokenHash)
	if !tokens.Configured() && len(c.tokenGated) > 0 {
		logger.Warn("command token is not configured: token-gated actions will always be denied")
	}

	gw, err := engine.NewGateway(engine.GatewayDeps{
		Identities:    engine.NewIdentityGate(cfg.Gateway.AllowedIdentities),
		KillSwitch:    ksm,
		Sessions:      sessions,
		Limiter:       engine.NewRateLimiter(sessions, cfg.Gateway.RateLimit.Limit, cfg.Gateway.RateLimit.Window),
		Tokens:        tokens,
		TokenGated:    c.tokenGated,
		Interpreter:   c.interpreter,
		Policy:        c.enforcer,
		Confirmations: engine.NewConfirmationWorkflow(sessions, cfg.Gateway.Confirmation.Timeout),
		Router:        c.router,
		Auditor:       auditor,
		Metrics:       metrics,
		Conversation:  conversation,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build gateway", zap.Error(err))
	}
	go gw.RunSweeper(appCtx, cfg.Gateway.Confirmation.SweepInterval)

	// 6. HTTP API
	apiKey := engine.NewTokenGate(cfg.Server.APIKey, cfg.Server.APIKeyHash)
	if !apiKey.Configured() {
		logger.Warn("server.api_key is not configured: /v1 endpoints will reject every request")
	}

	var chat httpapi.Chat
	if cfg.Server.ReplyWebhook != "" {
		chat = httpapi.NewWebhookChat(cfg.Server.ReplyWebhook, cfg.Server.ReplyWebhookTimeout, cfg.Handlers.MaxSendBytes, logger)
		logger.Info("push replies enabled", zap.String("endpoint", "/v1/inbox"))
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: httpapi.NewServer(httpapi.Deps{
			Gateway:      gw,
			Audit:        store,
			Gatherer:     reg,
			APIKey:       apiKey,
			MaxSendBytes: cfg.Handlers.MaxSendBytes,
			Chat:         chat,
		}, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway started",
			zap.String("addr", srv.Addr),
			zap.Bool("sandbox", cfg.Handlers.Sandbox),
			zap.String("audit_driver", cfg.Audit.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case sig := <-stop:
		logger.Info("gateway stopping", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel()

	logger.Info("gateway exited properly")
	return nil
}
