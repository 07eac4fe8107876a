package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации шлюза.
// Читается один раз при старте, в рантайме не перечитывается.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Interpreter InterpreterConfig `mapstructure:"interpreter"`
	Handlers    HandlersConfig    `mapstructure:"handlers"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает настройки локального HTTP API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Ключ локального API (Authorization: Bearer ...). Пустой ключ закрывает /v1/*
	APIKey     string `mapstructure:"api_key"`
	APIKeyHash string `mapstructure:"api_key_hash"`

	// Бот мессенджера: ответы на /v1/inbox уходят POST-ом сюда. Пусто - /v1/inbox выключен
	ReplyWebhook        string        `mapstructure:"reply_webhook"`
	ReplyWebhookTimeout time.Duration `mapstructure:"reply_webhook_timeout"`
}

// Addr: адрес для net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GatewayConfig: параметры шлюзовых проверок.
type GatewayConfig struct {
	AllowedIdentities []string `mapstructure:"allowed_identities"`
	// Статический список блокировок; в рантайме пополняется через Redis
	BlockedIdentities []string `mapstructure:"blocked_identities"`

	// Командный токен: либо открытым текстом, либо bcrypt-хешем
	CommandToken     string `mapstructure:"command_token"`
	CommandTokenHash string `mapstructure:"command_token_hash"`

	TokenGatedActions  []string `mapstructure:"token_gated_actions"`
	DestructiveActions []string `mapstructure:"destructive_actions"`

	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`

	MaxInputLength int `mapstructure:"max_input_length"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type ConfirmationConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PolicyConfig: белые списки.
type PolicyConfig struct {
	AllowedDirs []string `mapstructure:"allowed_dirs"`
	// Имя приложения (в нижнем регистре) -> команда запуска
	Apps map[string]string `mapstructure:"apps"`
	// Имя скрипта -> путь к файлу внутри scripts_dir
	Scripts            map[string]string `mapstructure:"scripts"`
	ScriptsDir         string            `mapstructure:"scripts_dir"`
	ProtectedProcesses []string          `mapstructure:"protected_processes"`
}

// InterpreterConfig: подключение к Ollama.
type InterpreterConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Temperature   float64       `mapstructure:"temperature"`
	MinConfidence float64       `mapstructure:"min_confidence"`
}

// HandlersConfig: исполнение действий и надежность.
type HandlersConfig struct {
	Sandbox        bool          `mapstructure:"sandbox"`
	SandboxLatency time.Duration `mapstructure:"sandbox_latency"` // имитация задержки в песочнице

	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	// Настройки Circuit Breaker для обработчиков
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`

	MaxReadBytes int64 `mapstructure:"max_read_bytes"`
	MaxSendBytes int64 `mapstructure:"max_send_bytes"`

	ScriptTimeout     time.Duration `mapstructure:"script_timeout"`
	ScreenshotCommand []string      `mapstructure:"screenshot_command"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir"`
	ScreenshotKeep    int           `mapstructure:"screenshot_keep"`
}

// AuditConfig: куда и как пишется журнал аудита.
type AuditConfig struct {
	Driver           string        `mapstructure:"driver"` // sqlite, postgres
	DSN              string        `mapstructure:"dsn"`
	BufferSize       int           `mapstructure:"buffer_size"`
	BatchSize        int           `mapstructure:"batch_size"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	MaxFlushAttempts int           `mapstructure:"max_flush_attempts"`
}

// MemoryConfig: история диалога и заметки (SQLite). Пустой dsn выключает.
type MemoryConfig struct {
	DSN          string `mapstructure:"dsn"`
	HistoryTurns int    `mapstructure:"history_turns"` // сколько реплик подмешивать в запрос к модели
	HistoryChars int    `mapstructure:"history_chars"` // обрезка каждой реплики в запросе
}

// RedisConfig описывает подключение к Redis (kill-switch). Пустой addr выключает.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path может быть пустым, тогда файл ищется в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// GATEWAY_COMMAND_TOKEN=... перекроет gateway.command_token
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Списки из ENV приходят одной строкой через запятую
	cfg.Gateway.AllowedIdentities = splitList(cfg.Gateway.AllowedIdentities)
	cfg.Gateway.BlockedIdentities = splitList(cfg.Gateway.BlockedIdentities)
	cfg.Gateway.TokenGatedActions = splitList(cfg.Gateway.TokenGatedActions)
	cfg.Gateway.DestructiveActions = splitList(cfg.Gateway.DestructiveActions)
	cfg.Policy.AllowedDirs = splitList(cfg.Policy.AllowedDirs)
	cfg.Policy.ProtectedProcesses = splitList(cfg.Policy.ProtectedProcesses)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.api_key_hash", "")
	v.SetDefault("server.reply_webhook", "")
	v.SetDefault("server.reply_webhook_timeout", 10*time.Second)

	v.SetDefault("gateway.allowed_identities", []string{})
	v.SetDefault("gateway.blocked_identities", []string{})
	v.SetDefault("gateway.command_token", "")
	v.SetDefault("gateway.command_token_hash", "")
	v.SetDefault("gateway.token_gated_actions", []string{"run_script", "kill_process", "send_file", "delete_file"})
	v.SetDefault("gateway.destructive_actions", []string{"kill_process", "delete_file", "clear_history"})
	v.SetDefault("gateway.rate_limit.limit", 30)
	v.SetDefault("gateway.rate_limit.window", 60*time.Second)
	v.SetDefault("gateway.confirmation.timeout", 60*time.Second)
	v.SetDefault("gateway.confirmation.sweep_interval", 10*time.Second)
	v.SetDefault("gateway.max_input_length", 4096)

	v.SetDefault("policy.allowed_dirs", []string{})
	v.SetDefault("policy.protected_processes", []string{"init", "systemd", "launchd", "csrss", "wininit", "winlogon", "lsass", "services"})

	v.SetDefault("interpreter.base_url", "http://localhost:11434")
	v.SetDefault("interpreter.model", "llama3.2")
	v.SetDefault("interpreter.timeout", 120*time.Second)
	v.SetDefault("interpreter.temperature", 0.1)
	v.SetDefault("interpreter.min_confidence", 0.3)

	v.SetDefault("handlers.sandbox", false)
	v.SetDefault("handlers.sandbox_latency", 0)
	v.SetDefault("handlers.call_timeout", 30*time.Second)
	v.SetDefault("handlers.retry_attempts", 3)
	v.SetDefault("handlers.retry_delay", 200*time.Millisecond)
	v.SetDefault("handlers.cb_max_requests", 3)
	v.SetDefault("handlers.cb_interval", 5*time.Second)
	v.SetDefault("handlers.cb_timeout", 30*time.Second)
	v.SetDefault("handlers.rate_per_second", 20)
	v.SetDefault("handlers.rate_burst", 10)
	v.SetDefault("handlers.max_read_bytes", 10<<20)
	v.SetDefault("handlers.max_send_bytes", 50<<20)
	v.SetDefault("handlers.script_timeout", 120*time.Second)
	v.SetDefault("handlers.screenshot_dir", "screenshots")
	v.SetDefault("handlers.screenshot_keep", 20)

	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.dsn", "data/audit.db")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("audit.max_flush_attempts", 5)

	v.SetDefault("memory.dsn", "data/memory.db")
	v.SetDefault("memory.history_turns", 6)
	v.SetDefault("memory.history_chars", 300)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate проверяет инварианты, без которых шлюз запускать нельзя.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Gateway.AllowedIdentities) == 0 {
		errs = append(errs, errors.New("gateway.allowed_identities must not be empty"))
	}
	if c.Gateway.RateLimit.Limit <= 0 {
		errs = append(errs, errors.New("gateway.rate_limit.limit must be positive"))
	}
	if c.Gateway.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("gateway.rate_limit.window must be positive"))
	}
	if c.Gateway.Confirmation.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.confirmation.timeout must be positive"))
	}
	if c.Gateway.MaxInputLength <= 0 {
		errs = append(errs, errors.New("gateway.max_input_length must be positive"))
	}
	switch c.Audit.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q is not supported", c.Audit.Driver))
	}
	if c.Audit.BufferSize <= 0 || c.Audit.BatchSize <= 0 {
		errs = append(errs, errors.New("audit.buffer_size and audit.batch_size must be positive"))
	}
	if c.Memory.HistoryTurns < 0 || c.Memory.HistoryChars < 0 {
		errs = append(errs, errors.New("memory.history_turns and memory.history_chars must not be negative"))
	}
	if c.Server.ReplyWebhook != "" {
		if u, err := url.Parse(c.Server.ReplyWebhook); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.reply_webhook %q must be an absolute http(s) URL", c.Server.ReplyWebhook))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
