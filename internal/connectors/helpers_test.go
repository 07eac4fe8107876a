package connectors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xela07ax/remote-command-gateway/internal/policy"
)

// runResult: заготовленный ответ fakeRunner на команду.
type runResult struct {
	stdout, stderr string
	code           int
	err            error
}

type fakeRunner struct {
	mu      sync.Mutex
	results map[string]runResult // ключ, argv[0]
	started [][]string
	ran     [][]string
	dirs    []string
}

func (r *fakeRunner) Start(_ context.Context, argv []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, argv)
	return r.results[argv[0]].err
}

func (r *fakeRunner) Run(_ context.Context, dir string, argv []string) ([]byte, []byte, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, argv)
	r.dirs = append(r.dirs, dir)
	res := r.results[argv[0]]
	return []byte(res.stdout), []byte(res.stderr), res.code, res.err
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ran))
	for _, argv := range r.ran {
		out = append(out, strings.Join(argv, " "))
	}
	return out
}

// sandboxDir создает временный корень с файлами "относительный путь -> содержимое".
func sandboxDir(t *testing.T, files map[string]string) (string, *policy.PathResolver) {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root, policy.NewPathResolver([]string{root})
}
