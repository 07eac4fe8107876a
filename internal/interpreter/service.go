package interpreter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
)

// Classification: сырой ответ модели до проверки.
type Classification struct {
	Action     string
	Arguments  map[string]any
	Confidence float64
}

// Classifier: внешний сервис вывода (LLM). Ответ считается недоверенным.
type Classifier interface {
	Classify(ctx context.Context, rawText string, schema *ActionSchema) (Classification, error)
}

type Config struct {
	MaxInputLength int
	MinConfidence  float64
	Destructive    map[domain.ActionKind]struct{}

	// History, если задана, подмешивает последние HistoryTurns реплик в запрос к модели
	History      memory.History
	HistoryTurns int
	HistoryChars int
}

// Service превращает свободный текст в проверенное намерение.
// Действия по умолчанию нет: любой сбой, ErrInterpretation.
type Service struct {
	classifier Classifier
	schema     *ActionSchema
	cfg        Config
	logger     *zap.Logger
}

func NewService(classifier Classifier, schema *ActionSchema, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 4096
	}
	return &Service{
		classifier: classifier,
		schema:     schema,
		cfg:        cfg,
		logger:     logger.Named("interpreter"),
	}
}

func (s *Service) Interpret(ctx context.Context, rawText string) (domain.Intent, error) {
	text := Sanitize(rawText, s.cfg.MaxInputLength)
	if text == "" {
		return domain.Intent{}, interpretationError("empty message", nil)
	}

	c, err := s.classifier.Classify(ctx, s.withHistory(ctx, text), s.schema)
	if err != nil {
		return domain.Intent{}, interpretationError("classifier failed", err)
	}

	if err := s.schema.Validate(c); err != nil {
		return domain.Intent{}, interpretationError("model output does not match schema", err)
	}

	action, ok := domain.ParseActionKind(c.Action)
	if !ok {
		return domain.Intent{}, interpretationError("unknown action", fmt.Errorf("action %q", c.Action))
	}

	if c.Confidence < s.cfg.MinConfidence {
		return domain.Intent{}, interpretationError("low confidence",
			fmt.Errorf("confidence %.2f below %.2f", c.Confidence, s.cfg.MinConfidence))
	}

	args := make(map[string]string, len(c.Arguments))
	for k, v := range c.Arguments {
		if str, ok := scalarString(v); ok {
			args[k] = str
		}
	}
	for _, req := range domain.RequiredArgs(action) {
		if strings.TrimSpace(args[req]) == "" {
			return domain.Intent{}, interpretationError("missing argument", fmt.Errorf("argument %q", req))
		}
	}

	_, destructive := s.cfg.Destructive[action]
	return domain.NewIntent(action, args, text, destructive, c.Confidence), nil
}

// withHistory добавляет к тексту недавний диалог отправителя. Сбой чтения
// истории не мешает разбору.
func (s *Service) withHistory(ctx context.Context, text string) string {
	if s.cfg.History == nil || s.cfg.HistoryTurns <= 0 {
		return text
	}
	id, ok := domain.IdentityFrom(ctx)
	if !ok {
		return text
	}
	recent, err := s.cfg.History.Recent(ctx, id, s.cfg.HistoryTurns)
	if err != nil {
		s.logger.Warn("conversation history unavailable", zap.String("identity", string(id)), zap.Error(err))
		return text
	}
	return memory.ContextPrompt(recent, text, s.cfg.HistoryChars)
}

// Sanitize обрезает пробелы, выкидывает управляющие символы (кроме перевода
// строки и табуляции) и ограничивает длину в рунах.
func Sanitize(raw string, maxRunes int) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(raw) {
		if maxRunes > 0 && n >= maxRunes {
			break
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

func interpretationError(reason string, cause error) error {
	return domain.NewGateError(domain.ErrInterpretation, reason, cause)
}
