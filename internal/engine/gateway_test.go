package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/connectors"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/policy"
)

type fakeAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *fakeAuditor) Log(r audit.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

func (a *fakeAuditor) all() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Record(nil), a.records...)
}

func (a *fakeAuditor) last(t *testing.T) audit.Record {
	t.Helper()
	all := a.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

// fakeInterpreter отвечает заранее заготовленными намерениями.
type fakeInterpreter struct {
	intents map[string]domain.Intent
	calls   atomic.Int32
}

func (f *fakeInterpreter) Interpret(_ context.Context, raw string) (domain.Intent, error) {
	f.calls.Add(1)
	if intent, ok := f.intents[raw]; ok {
		return intent, nil
	}
	return domain.Intent{}, domain.NewGateError(domain.ErrInterpretation, "unknown request", nil)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type gatewayHarness struct {
	gw          *Gateway
	auditor     *fakeAuditor
	interpreter *fakeInterpreter
	killSwitch  *KillSwitchManager
	clock       *clock
	kills       atomic.Int32
	root        string
}

const testToken = "s3cret-token"

func newGatewayHarness(t *testing.T, rateLimit int) *gatewayHarness {
	t.Helper()
	h := &gatewayHarness{
		auditor: &fakeAuditor{},
		clock:   &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		root:    t.TempDir(),
	}

	intent := func(a domain.ActionKind, args map[string]string, raw string, destructive bool) domain.Intent {
		return domain.NewIntent(a, args, raw, destructive, 0.9)
	}
	h.interpreter = &fakeInterpreter{intents: map[string]domain.Intent{
		"open chrome":            intent(domain.ActionOpenApp, map[string]string{domain.ArgAppName: "chrome"}, "open chrome", false),
		"kill notepad":           intent(domain.ActionKillProcess, map[string]string{domain.ArgProcessName: "notepad"}, "kill notepad", true),
		"kill systemd":           intent(domain.ActionKillProcess, map[string]string{domain.ArgProcessName: "systemd"}, "kill systemd", true),
		"run backup":             intent(domain.ActionRunScript, map[string]string{domain.ArgScriptName: "backup"}, "run backup", false),
		"read the password file": intent(domain.ActionReadFile, map[string]string{domain.ArgFilePath: filepath.Join(h.root, "..", "..", "etc", "passwd")}, "read the password file", false),
	}}

	enforcer, err := policy.NewTableEnforcer(policy.DefaultRules(), policy.Rules{
		AllowedDirs:        []string{h.root},
		Apps:               []string{"chrome"},
		Scripts:            []string{"backup"},
		ProtectedProcesses: []string{"systemd"},
	})
	require.NoError(t, err)

	handlers := okHandlers()
	handlers[domain.ActionKillProcess] = connectors.HandlerFunc(func(_ context.Context, args map[string]string) (domain.ActionResult, error) {
		h.kills.Add(1)
		return connectors.Ok("✅ Killed " + args[domain.ArgProcessName]), nil
	})
	handlers[domain.ActionRunScript] = connectors.HandlerFunc(func(context.Context, map[string]string) (domain.ActionResult, error) {
		return domain.ActionResult{}, connectors.Fail("script not found", nil)
	})
	router, err := NewRouter(handlers, zap.NewNop(), nil)
	require.NoError(t, err)

	tokenGated, err := policy.ParseActions([]string{"run_script", "kill_process", "send_file"})
	require.NoError(t, err)

	sessions := NewSessionRegistry()
	h.killSwitch = NewKillSwitchManager(nil, zap.NewNop())
	gw, err := NewGateway(GatewayDeps{
		Identities:    NewIdentityGate([]string{"42", "99"}),
		KillSwitch:    h.killSwitch,
		Sessions:      sessions,
		Limiter:       NewRateLimiter(sessions, rateLimit, time.Minute),
		Tokens:        NewTokenGate(testToken, ""),
		TokenGated:    tokenGated,
		Interpreter:   h.interpreter,
		Policy:        enforcer,
		Confirmations: NewConfirmationWorkflow(sessions, time.Minute),
		Router:        router,
		Auditor:       h.auditor,
	}, zap.NewNop())
	require.NoError(t, err)
	gw.now = h.clock.Now
	h.gw = gw
	return h
}

func (h *gatewayHarness) send(id, text, token string) domain.Reply {
	return h.gw.HandleMessage(context.Background(), domain.InboundMessage{
		Identity: domain.Identity(id), Text: text, Token: token, MessageID: "m-" + text,
	})
}

func TestNewGateway_MissingDependency(t *testing.T) {
	_, err := NewGateway(GatewayDeps{}, zap.NewNop())
	assert.Error(t, err)
}

func TestGateway_OpenAppSucceeds(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("42", "open chrome", "")
	assert.Equal(t, domain.ReplyResult, reply.Kind)
	assert.Equal(t, "open_app done", reply.Text)

	records := h.auditor.all()
	require.Len(t, records, 1)
	assert.Equal(t, audit.DecisionAllowed, records[0].Decision)
	assert.Equal(t, audit.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, "open_app", records[0].Action)
	assert.Equal(t, "42", records[0].Identity)
	assert.Equal(t, "m-open chrome", records[0].MessageID)
}

func TestGateway_UnauthorizedIdentityNeverReachesInterpreter(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("7", "open chrome", testToken)
	assert.Equal(t, domain.ReplyDenied, reply.Kind)
	assert.Equal(t, "⛔ Access denied.", reply.Text)
	assert.Zero(t, h.interpreter.calls.Load())

	rec := h.auditor.last(t)
	assert.Equal(t, audit.DecisionDenied, rec.Decision)
	assert.Equal(t, "unauthorized identity", rec.Reason)
	assert.Len(t, h.auditor.all(), 1)
}

func TestGateway_KillSwitchOverridesAllowList(t *testing.T) {
	h := newGatewayHarness(t, 30)
	h.killSwitch.Set("42", true)

	reply := h.send("42", "open chrome", "")
	assert.Equal(t, domain.ReplyDenied, reply.Kind)
	assert.Zero(t, h.interpreter.calls.Load())

	h.killSwitch.Set("42", false)
	assert.Equal(t, domain.ReplyResult, h.send("42", "open chrome", "").Kind)
}

func TestGateway_RateLimit(t *testing.T) {
	h := newGatewayHarness(t, 2)

	assert.Equal(t, domain.ReplyResult, h.send("42", "open chrome", "").Kind)
	assert.Equal(t, domain.ReplyResult, h.send("42", "open chrome", "").Kind)

	reply := h.send("42", "open chrome", "")
	assert.Equal(t, domain.ReplyDenied, reply.Kind)
	assert.Equal(t, "⏳ Too many requests. Please slow down.", reply.Text)
	assert.Equal(t, int32(2), h.interpreter.calls.Load())
	assert.Equal(t, "rate limited", h.auditor.last(t).Reason)

	// другой пользователь не затронут, окно сдвигается со временем
	assert.Equal(t, domain.ReplyResult, h.send("99", "open chrome", "").Kind)
	h.clock.Advance(time.Minute)
	assert.Equal(t, domain.ReplyResult, h.send("42", "open chrome", "").Kind)
}

func TestGateway_TokenGate(t *testing.T) {
	t.Run("missing token on gated action", func(t *testing.T) {
		h := newGatewayHarness(t, 30)
		reply := h.send("42", "kill notepad", "")
		assert.Equal(t, domain.ReplyDenied, reply.Kind)
		assert.Equal(t, "⛔ Access denied.", reply.Text)

		rec := h.auditor.last(t)
		assert.Equal(t, "kill_process", rec.Action)
		assert.Equal(t, "invalid command token: token required", rec.Reason)
	})

	t.Run("wrong token is rejected before interpretation", func(t *testing.T) {
		h := newGatewayHarness(t, 30)
		reply := h.send("42", "open chrome", "wrong")
		assert.Equal(t, domain.ReplyDenied, reply.Kind)
		assert.Zero(t, h.interpreter.calls.Load())
	})

	t.Run("token not needed for ungated action", func(t *testing.T) {
		h := newGatewayHarness(t, 30)
		assert.Equal(t, domain.ReplyResult, h.send("42", "open chrome", "").Kind)
	})
}

func TestGateway_InterpretationFailure(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("42", "asdf qwerty", "")
	assert.Equal(t, domain.ReplyDenied, reply.Kind)
	assert.Equal(t, "🤔 I couldn't understand that request. Could you rephrase it?", reply.Text)
	assert.Equal(t, "interpretation error: unknown request", h.auditor.last(t).Reason)
}

func TestGateway_PolicyDeniesTraversal(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("42", "read the password file", "")
	assert.Equal(t, domain.ReplyDenied, reply.Kind)
	assert.Equal(t, "🚫 Request denied: path not permitted.", reply.Text)

	rec := h.auditor.last(t)
	assert.Equal(t, "read_file", rec.Action)
	assert.Equal(t, audit.DecisionDenied, rec.Decision)
}

func TestGateway_ProtectedProcessDeniedBeforeConfirmation(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("42", "kill systemd", testToken)
	assert.Equal(t, domain.ReplyDenied, reply.Kind)
	_, pending := h.gw.confirmations.Pending("42")
	assert.False(t, pending)
}

func TestGateway_DestructiveActionNeedsOwnersConfirmation(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("42", "kill notepad", testToken)
	require.Equal(t, domain.ReplyConfirmation, reply.Kind)
	assert.NotEmpty(t, reply.ConfirmationID)
	assert.Contains(t, reply.Text, "kill_process")
	assert.Zero(t, h.kills.Load())
	assert.Equal(t, audit.DecisionPending, h.auditor.last(t).Decision)

	// чужое "да" ничего не подтверждает
	reply = h.send("99", "yes", "")
	assert.Equal(t, domain.ReplyIgnored, reply.Kind)
	assert.Zero(t, h.kills.Load())
	assert.Equal(t, "confirmation mismatch", h.auditor.last(t).Reason)

	reply = h.send("42", "yes", "")
	assert.Equal(t, domain.ReplyResult, reply.Kind)
	assert.Equal(t, "✅ Killed notepad", reply.Text)
	assert.Equal(t, int32(1), h.kills.Load())

	rec := h.auditor.last(t)
	assert.Equal(t, audit.DecisionAllowed, rec.Decision)
	assert.Equal(t, audit.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "kill_process", rec.Action)

	// повторное "да" уже не исполняет
	reply = h.send("42", "yes", "")
	assert.Equal(t, domain.ReplyIgnored, reply.Kind)
	assert.Equal(t, int32(1), h.kills.Load())
}

func TestGateway_RejectionCancels(t *testing.T) {
	h := newGatewayHarness(t, 30)
	h.send("42", "kill notepad", testToken)

	reply := h.send("42", "no", "")
	assert.Equal(t, domain.ReplyResult, reply.Kind)
	assert.Equal(t, "🚫 Cancelled.", reply.Text)
	assert.Zero(t, h.kills.Load())
	assert.Equal(t, audit.DecisionRejected, h.auditor.last(t).Decision)
}

func TestGateway_LateConfirmationExpires(t *testing.T) {
	h := newGatewayHarness(t, 30)
	h.send("42", "kill notepad", testToken)

	h.clock.Advance(time.Minute)
	reply := h.send("42", "yes", "")
	assert.Equal(t, domain.ReplyError, reply.Kind)
	assert.Equal(t, "⌛ Confirmation expired. Please send the request again.", reply.Text)
	assert.Zero(t, h.kills.Load())

	var decisions []audit.Decision
	for _, r := range h.auditor.all() {
		decisions = append(decisions, r.Decision)
	}
	assert.Equal(t, []audit.Decision{audit.DecisionPending, audit.DecisionExpired, audit.DecisionDenied}, decisions)
}

func TestGateway_SweepExpiresPending(t *testing.T) {
	h := newGatewayHarness(t, 30)
	h.send("42", "kill notepad", testToken)

	h.clock.Advance(2 * time.Minute)
	h.gw.Sweep()

	rec := h.auditor.last(t)
	assert.Equal(t, audit.DecisionExpired, rec.Decision)
	assert.Equal(t, "kill_process", rec.Action)

	// истекшее по таймеру уже не подтверждается
	reply := h.send("42", "yes", "")
	assert.NotEqual(t, domain.ReplyResult, reply.Kind)
	assert.Zero(t, h.kills.Load())
}

func TestGateway_NewerDestructiveRequestSupersedes(t *testing.T) {
	h := newGatewayHarness(t, 30)
	h.send("42", "kill notepad", testToken)
	h.send("42", "kill notepad", testToken)

	records := h.auditor.all()
	require.Len(t, records, 3)
	assert.Equal(t, audit.DecisionPending, records[0].Decision)
	assert.Equal(t, audit.DecisionRejected, records[1].Decision)
	assert.Equal(t, "superseded by a newer request", records[1].Reason)
	assert.Equal(t, audit.DecisionPending, records[2].Decision)
}

func TestGateway_HandlerFailureIsReportedSafely(t *testing.T) {
	h := newGatewayHarness(t, 30)

	reply := h.send("42", "run backup", testToken)
	assert.Equal(t, domain.ReplyError, reply.Kind)
	assert.Equal(t, "❌ script not found.", reply.Text)

	rec := h.auditor.last(t)
	assert.Equal(t, audit.DecisionAllowed, rec.Decision)
	assert.Equal(t, audit.OutcomeFailure, rec.Outcome)
	assert.Equal(t, string(domain.ErrorHandlerFailure), rec.Reason)
}
