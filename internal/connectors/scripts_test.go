package connectors

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

func TestScripts_RunScript(t *testing.T) {
	root, dir := sandboxDir(t, map[string]string{
		"backup.sh": "#!/bin/sh\necho ok\n",
		"quiet.sh":  "",
		"tool.rb":   "",
	})
	runner := &fakeRunner{results: map[string]runResult{
		"sh": {stdout: "copied 3 files\n", stderr: "warn: slow disk", code: 0},
	}}
	scripts := NewScripts(map[string]string{
		"Backup":  "backup.sh",
		"escape":  "../outside.sh",
		"missing": "nope.sh",
		"ruby":    "tool.rb",
	}, dir, runner)
	ctx := context.Background()

	res, err := scripts.RunScript(ctx, map[string]string{domain.ArgScriptName: "backup"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "📜 Script 'backup' output (exit code: 0)")
	assert.Contains(t, res.Output, "copied 3 files")
	assert.Contains(t, res.Output, "[STDERR]\nwarn: slow disk")

	canonicalRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"sh " + filepath.Join(canonicalRoot, "backup.sh")}, runner.commands())
	assert.Equal(t, canonicalRoot, runner.dirs[0])

	failures := map[string]string{
		"unknown": "script not permitted",
		"escape":  "script path is outside the scripts directory",
		"missing": "script file not found",
		"ruby":    "unsupported script type",
	}
	for name, want := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := scripts.RunScript(ctx, map[string]string{domain.ArgScriptName: name})
			assert.Equal(t, want, Summary(err))
		})
	}
}

func TestScripts_OutputFormatting(t *testing.T) {
	_, dir := sandboxDir(t, map[string]string{"quiet.sh": "", "noisy.sh": ""})
	ctx := context.Background()

	quiet := NewScripts(map[string]string{"quiet": "quiet.sh"}, dir, &fakeRunner{results: map[string]runResult{"sh": {code: 2}}})
	res, err := quiet.RunScript(ctx, map[string]string{domain.ArgScriptName: "quiet"})
	require.NoError(t, err)
	assert.Equal(t, "✅ Script 'quiet' executed (exit code: 2)", res.Output)

	noisy := NewScripts(map[string]string{"noisy": "noisy.sh"}, dir,
		&fakeRunner{results: map[string]runResult{"sh": {stdout: strings.Repeat("x", maxScriptOutput*2)}}})
	res, err = noisy.RunScript(ctx, map[string]string{domain.ArgScriptName: "noisy"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "... [truncated]")
	assert.Less(t, len(res.Output), maxScriptOutput+200)
}

func TestScripts_Timeout(t *testing.T) {
	_, dir := sandboxDir(t, map[string]string{"slow.sh": ""})
	scripts := NewScripts(map[string]string{"slow": "slow.sh"}, dir,
		&fakeRunner{results: map[string]runResult{"sh": {err: context.DeadlineExceeded}}})

	_, err := scripts.RunScript(context.Background(), map[string]string{domain.ArgScriptName: "slow"})
	assert.Equal(t, "script 'slow' timed out", Summary(err))
}
