package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
	"github.com/xela07ax/remote-command-gateway/internal/policy"
)

// Interpreter превращает текст в проверенное намерение.
type Interpreter interface {
	Interpret(ctx context.Context, rawText string) (domain.Intent, error)
}

// GatewayDeps: компоненты конвейера. KillSwitch может быть nil.
type GatewayDeps struct {
	Identities    *IdentityGate
	KillSwitch    *KillSwitchManager
	Sessions      *SessionRegistry
	Limiter       *RateLimiter
	Tokens        *TokenGate
	TokenGated    map[domain.ActionKind]struct{}
	Interpreter   Interpreter
	Policy        policy.Enforcer
	Confirmations *ConfirmationWorkflow
	Router        *Router
	Auditor       audit.Auditor
	Metrics       *Metrics
	// Conversation, если задана, запоминает реплики для контекста модели
	Conversation memory.History
}

// Gateway: конвейер авторизации и исполнения команд.
// Замок пользователя держится только на время решения (лимит и разбор
// подтверждения, постановка в ожидание), но не во время LLM и обработчика.
type Gateway struct {
	identities    *IdentityGate
	killSwitch    *KillSwitchManager
	sessions      *SessionRegistry
	limiter       *RateLimiter
	tokens        *TokenGate
	tokenGated    map[domain.ActionKind]struct{}
	interpreter   Interpreter
	policy        policy.Enforcer
	confirmations *ConfirmationWorkflow
	router        *Router
	auditor       audit.Auditor
	metrics       *Metrics
	conversation  memory.History
	logger        *zap.Logger
	now           func() time.Time
}

func NewGateway(d GatewayDeps, logger *zap.Logger) (*Gateway, error) {
	switch {
	case d.Identities == nil, d.Sessions == nil, d.Limiter == nil, d.Tokens == nil,
		d.Interpreter == nil, d.Policy == nil, d.Confirmations == nil, d.Router == nil, d.Auditor == nil:
		return nil, errors.New("gateway: missing dependency")
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	gated := make(map[domain.ActionKind]struct{}, len(d.TokenGated))
	for a := range d.TokenGated {
		gated[a] = struct{}{}
	}
	return &Gateway{
		identities:    d.Identities,
		killSwitch:    d.KillSwitch,
		sessions:      d.Sessions,
		limiter:       d.Limiter,
		tokens:        d.Tokens,
		tokenGated:    gated,
		interpreter:   d.Interpreter,
		policy:        d.Policy,
		confirmations: d.Confirmations,
		router:        d.Router,
		auditor:       d.Auditor,
		metrics:       d.Metrics,
		conversation:  d.Conversation,
		logger:        logger.Named("gateway"),
		now:           time.Now,
	}, nil
}

// HandleMessage проводит сообщение через все проверки и всегда возвращает ответ.
func (g *Gateway) HandleMessage(ctx context.Context, msg domain.InboundMessage) domain.Reply {
	g.metrics.TotalRequests.Inc()
	start := g.now()
	id := msg.Identity
	ctx = domain.WithIdentity(ctx, id)
	log := g.logger.With(zap.String("identity", string(id)), zap.String("message_id", msg.MessageID))

	// 1. Identity Gate + оперативные блокировки (только запрещают)
	if !g.identities.Authorize(id) || (g.killSwitch != nil && g.killSwitch.IsBlocked(id)) {
		log.Warn("unauthorized identity")
		return g.deny(msg, start, nil, domain.NewGateError(domain.ErrUnauthorizedIdentity, "", nil), "unauthorized")
	}

	// 2. Rate Limiter и разбор ответа на подтверждение, одно решение под замком пользователя
	var (
		permitted bool
		res       Resolution
		resErr    error
	)
	g.sessions.With(id, func(s *Session) {
		permitted = g.limiter.permitLocked(s, start)
		if permitted {
			res, resErr = g.confirmations.resolveLocked(s, msg, start)
		}
	})
	if res.Expired != nil {
		g.recordExpired(*res.Expired)
	}
	if !permitted {
		log.Warn("rate limit exceeded")
		return g.deny(msg, start, nil, domain.NewGateError(domain.ErrRateLimited, "", nil), "rate_limit")
	}
	if resErr != nil {
		return g.confirmationError(log, msg, start, resErr)
	}

	switch res.Outcome {
	case ReplyConfirmed:
		log.Info("destructive action confirmed", zap.String("confirmation_id", res.Confirmation.ID))
		g.updatePending()
		return g.dispatch(ctx, msg, start, res.Confirmation.Intent)
	case ReplyRejected:
		log.Info("destructive action rejected", zap.String("confirmation_id", res.Confirmation.ID))
		g.updatePending()
		intent := res.Confirmation.Intent
		g.record(msg, start, &intent, audit.DecisionRejected, audit.OutcomeNone, "rejected by owner")
		return domain.Reply{Identity: id, Kind: domain.ReplyResult, Text: "🚫 Cancelled."}
	}

	// 3. Token Gate: присланный токен проверяем сразу
	tokenSupplied := msg.Token != ""
	if tokenSupplied && !g.tokens.Verify(msg.Token) {
		log.Warn("invalid command token")
		return g.deny(msg, start, nil, domain.NewGateError(domain.ErrInvalidToken, "", nil), "invalid_token")
	}

	// 4. Intent Interpreter (без замка)
	intent, err := g.interpreter.Interpret(ctx, msg.Text)
	if err != nil {
		log.Warn("interpretation failed", zap.Error(err))
		return g.deny(msg, start, nil, err, "interpretation")
	}
	g.remember(ctx, id, memory.Message{Role: memory.RoleUser, Text: intent.RawText()})

	// 3b. Действие требует токен, а его не прислали
	if _, gated := g.tokenGated[intent.Action()]; gated && !tokenSupplied {
		log.Warn("command token required", zap.String("action", intent.Action().String()))
		return g.deny(msg, start, &intent, domain.NewGateError(domain.ErrInvalidToken, "token required", nil), "invalid_token")
	}

	// 5. Permission Policy
	if decision := g.policy.Evaluate(intent); !decision.Allowed {
		log.Warn("policy denied",
			zap.String("action", intent.Action().String()),
			zap.String("reason", decision.Reason),
		)
		return g.deny(msg, start, &intent, domain.NewGateError(domain.ErrPolicyDenied, decision.Reason, nil), "policy_deny")
	}

	// 6. Confirmation Workflow для разрушительных действий
	if intent.Destructive() {
		return g.requestConfirmation(ctx, log, msg, start, intent)
	}

	// 7. Action Router
	return g.dispatch(ctx, msg, start, intent)
}

func (g *Gateway) requestConfirmation(ctx context.Context, log *zap.Logger, msg domain.InboundMessage, start time.Time, intent domain.Intent) domain.Reply {
	pending, replaced := g.confirmations.Begin(msg.Identity, intent, g.now())
	if replaced != nil {
		prev := replaced.Intent
		g.record(msg, start, &prev, audit.DecisionRejected, audit.OutcomeNone, "superseded by a newer request")
	}
	g.record(msg, start, &intent, audit.DecisionPending, audit.OutcomeNone, "")
	g.metrics.Decisions.WithLabelValues(intent.Action().String(), string(audit.DecisionPending)).Inc()
	g.updatePending()

	log.Info("confirmation requested",
		zap.String("confirmation_id", pending.ID),
		zap.String("action", intent.Action().String()),
		zap.Time("expires_at", pending.ExpiresAt),
	)

	timeout := pending.ExpiresAt.Sub(pending.CreatedAt).Round(time.Second)
	reply := domain.Reply{
		Identity:       msg.Identity,
		Kind:           domain.ReplyConfirmation,
		ConfirmationID: pending.ID,
		Text: fmt.Sprintf("⚠️ Please confirm: %s %s\nReply YES within %s to proceed, anything else cancels.",
			intent.Action(), intent.Summary(), timeout),
	}
	g.remember(ctx, msg.Identity, memory.Message{Role: memory.RoleAssistant, Text: reply.Text, Action: intent.Action().String()})
	return reply
}

// dispatch исполняет уже разрешенное намерение. Отмена ctx не прерывает обработчик.
func (g *Gateway) dispatch(ctx context.Context, msg domain.InboundMessage, start time.Time, intent domain.Intent) domain.Reply {
	result := g.router.Dispatch(ctx, intent)

	outcome := audit.OutcomeSuccess
	reason := ""
	if !result.Success {
		outcome = audit.OutcomeFailure
		reason = string(result.Error)
		g.metrics.ErrorTotal.WithLabelValues("handler").Inc()
	}
	g.record(msg, start, &intent, audit.DecisionAllowed, outcome, reason)
	g.metrics.Decisions.WithLabelValues(intent.Action().String(), string(audit.DecisionAllowed)).Inc()

	reply := domain.Reply{
		Identity:   msg.Identity,
		Kind:       domain.ReplyResult,
		Text:       result.Output,
		Attachment: result.Attachment,
	}
	if !result.Success {
		reply = domain.Reply{
			Identity: msg.Identity,
			Kind:     domain.ReplyError,
			Text:     domain.SafeMessage(domain.NewGateError(domain.ErrHandlerFailure, result.Output, nil)),
		}
	}
	// После очистки история должна остаться пустой
	if !(result.Success && intent.Action() == domain.ActionClearHistory) {
		g.remember(ctx, msg.Identity, memory.Message{Role: memory.RoleAssistant, Text: reply.Text, Action: intent.Action().String()})
	}
	return reply
}

// remember пишет реплику в историю. Сбой хранилища на ответ не влияет.
func (g *Gateway) remember(ctx context.Context, id domain.Identity, m memory.Message) {
	if g.conversation == nil {
		return
	}
	if err := g.conversation.Append(context.WithoutCancel(ctx), id, m); err != nil {
		g.logger.Warn("failed to store conversation message",
			zap.String("identity", string(id)),
			zap.String("role", string(m.Role)),
			zap.Error(err),
		)
	}
}

func (g *Gateway) confirmationError(log *zap.Logger, msg domain.InboundMessage, start time.Time, err error) domain.Reply {
	kind := domain.ReplyError
	reason := "confirmation expired"
	metric := "confirmation_expired"
	if errors.Is(err, domain.ErrConfirmationMismatch) {
		kind = domain.ReplyIgnored
		reason = "confirmation mismatch"
		metric = "confirmation_mismatch"
	}
	log.Warn("confirmation reply refused", zap.String("reason", reason), zap.String("reply_to", msg.ReplyTo))
	g.metrics.ErrorTotal.WithLabelValues(metric).Inc()
	g.metrics.Decisions.WithLabelValues("none", string(audit.DecisionDenied)).Inc()
	g.record(msg, start, nil, audit.DecisionDenied, audit.OutcomeNone, reason)
	return domain.Reply{Identity: msg.Identity, Kind: kind, Text: domain.SafeMessage(err)}
}

// deny - единая точка отказа: метрика, одна запись аудита и безопасный текст.
func (g *Gateway) deny(msg domain.InboundMessage, start time.Time, intent *domain.Intent, err error, metric string) domain.Reply {
	action := "none"
	if intent != nil {
		action = intent.Action().String()
	}
	g.metrics.ErrorTotal.WithLabelValues(metric).Inc()
	g.metrics.Decisions.WithLabelValues(action, string(audit.DecisionDenied)).Inc()

	reason := err.Error()
	var gErr *domain.GateError
	if errors.As(err, &gErr) {
		reason = gErr.Kind.Error()
		if gErr.Reason != "" {
			reason += ": " + gErr.Reason
		}
	}
	g.record(msg, start, intent, audit.DecisionDenied, audit.OutcomeNone, reason)
	return domain.Reply{Identity: msg.Identity, Kind: domain.ReplyDenied, Text: domain.SafeMessage(err)}
}

func (g *Gateway) record(msg domain.InboundMessage, start time.Time, intent *domain.Intent, decision audit.Decision, outcome audit.Outcome, reason string) {
	r := audit.Record{
		Timestamp:  g.now(),
		Identity:   string(msg.Identity),
		MessageID:  msg.MessageID,
		Decision:   decision,
		Outcome:    outcome,
		Reason:     reason,
		DurationMs: g.now().Sub(start).Milliseconds(),
	}
	if intent != nil {
		r.Action = intent.Action().String()
		r.IntentSummary = intent.Summary()
	}
	g.auditor.Log(r)
}

func (g *Gateway) recordExpired(p domain.PendingConfirmation) {
	g.logger.Info("confirmation expired",
		zap.String("identity", string(p.Identity)),
		zap.String("confirmation_id", p.ID),
	)
	g.metrics.Decisions.WithLabelValues(p.Intent.Action().String(), string(audit.DecisionExpired)).Inc()
	g.auditor.Log(audit.Record{
		Timestamp:     g.now(),
		Identity:      string(p.Identity),
		Action:        p.Intent.Action().String(),
		IntentSummary: p.Intent.Summary(),
		Decision:      audit.DecisionExpired,
		Outcome:       audit.OutcomeNone,
		Reason:        "confirmation " + p.ID + " expired",
	})
	g.updatePending()
}

func (g *Gateway) updatePending() {
	g.metrics.PendingConfirmations.Set(float64(g.confirmations.CountPending()))
}

// Sweep делает один проход фоновой уборки (просрочка подтверждений и пустые окна).
func (g *Gateway) Sweep() {
	now := g.now()
	for _, p := range g.confirmations.Sweep(now) {
		g.recordExpired(p)
	}
	g.limiter.Sweep(now)
	g.updatePending()
}

// RunSweeper крутит Sweep до отмены ctx.
func (g *Gateway) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
