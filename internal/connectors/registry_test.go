package connectors

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

func TestBuild_CoversEveryAction(t *testing.T) {
	_, paths := sandboxDir(t, nil)
	handlers := Build(Deps{Paths: paths, ScriptsDir: paths, Runner: &fakeRunner{}}, zap.NewNop())
	for _, a := range domain.ActionKinds() {
		assert.Contains(t, handlers, a, a.String())
	}
}

func TestBuild_SandboxInterceptsSideEffects(t *testing.T) {
	_, paths := sandboxDir(t, nil)
	runner := &fakeRunner{}
	handlers := Build(Deps{
		Paths:      paths,
		ScriptsDir: paths,
		Apps:       map[string]string{"chrome": "chrome"},
		Runner:     runner,
		Started:    time.Now(),
		Sandbox:    true,
	}, zap.NewNop())
	ctx := context.Background()

	res, err := handlers[domain.ActionKillProcess].Execute(ctx, map[string]string{domain.ArgProcessName: "notepad"})
	require.NoError(t, err)
	assert.Equal(t, `🧪 [sandbox] kill_process process_name="notepad": simulated, nothing was executed.`, res.Output)

	_, err = handlers[domain.ActionOpenApp].Execute(ctx, map[string]string{domain.ArgAppName: "chrome"})
	require.NoError(t, err)
	assert.Empty(t, runner.started)
	assert.Empty(t, runner.ran)

	// status без побочных эффектов исполняется по-настоящему
	res, err = handlers[domain.ActionSystemStatus].Execute(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "🧪 Mode: sandbox")
}

func TestSandbox_RespectsContext(t *testing.T) {
	s := NewSandbox(domain.ActionRunScript, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Execute(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystem_StatusIncludesExtraSources(t *testing.T) {
	src := func(context.Context) []string { return []string{"🧠 Model: llama3.2 (online)"} }
	res, err := NewSystem(time.Now().Add(-time.Minute), false, src).Status(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Output, "💻 System Report"))
	assert.Contains(t, res.Output, "🧪 Mode: live")
	assert.Contains(t, res.Output, "⏱️ Gateway uptime: 1m0s")
	assert.True(t, strings.HasSuffix(res.Output, "🧠 Model: llama3.2 (online)"))
}

func TestChatAndHelp(t *testing.T) {
	res, err := Chat(context.Background(), map[string]string{domain.ArgResponse: "  Hi there  "})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Output)

	res, _ = Chat(context.Background(), nil)
	assert.Contains(t, res.Output, "/help")

	res, err = NewHelp([]string{"vscode", "chrome"}, []string{"backup"}).Help(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "📱 Apps: chrome, vscode")
	assert.Contains(t, res.Output, "📜 Scripts: backup")

	res, _ = NewHelp(nil, nil).Help(context.Background(), nil)
	assert.NotContains(t, res.Output, "Apps:")
}

func TestErrorsSummary(t *testing.T) {
	assert.Equal(t, "file not found", Summary(Fail("file not found", context.Canceled)))
	assert.Equal(t, "this capability is not available on this host", Summary(ErrUnavailable))
	assert.Equal(t, "the action failed", Summary(context.DeadlineExceeded))
	assert.True(t, IsTransient(&TransientError{}))
	assert.False(t, IsTransient(Fail("x", nil)))
}
