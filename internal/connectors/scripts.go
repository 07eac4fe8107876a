package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

const maxScriptOutput = 3800

// Scripts исполняет только заранее объявленные скрипты из scripts_dir.
type Scripts struct {
	scripts map[string]string // имя -> путь
	dir     PathResolver      // ограничивает пути каталогом скриптов
	runner  Runner
}

func NewScripts(scripts map[string]string, dir PathResolver, runner Runner) *Scripts {
	s := make(map[string]string, len(scripts))
	for name, p := range scripts {
		s[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return &Scripts{scripts: s, dir: dir, runner: runner}
}

func (s *Scripts) Names() []string {
	names := make([]string, 0, len(s.scripts))
	for n := range s.scripts {
		names = append(names, n)
	}
	return names
}

func (s *Scripts) RunScript(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	name := strings.ToLower(strings.TrimSpace(args[domain.ArgScriptName]))
	rel, ok := s.scripts[name]
	if !ok {
		return domain.ActionResult{}, Fail("script not permitted", nil)
	}
	path, ok := s.dir.Resolve(rel)
	if !ok {
		return domain.ActionResult{}, Fail("script path is outside the scripts directory", fmt.Errorf("script %q -> %q", name, rel))
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return domain.ActionResult{}, Fail("script file not found", err)
	}

	argv, err := interpreterFor(path)
	if err != nil {
		return domain.ActionResult{}, Fail("unsupported script type", err)
	}

	stdout, stderr, code, err := s.runner.Run(ctx, filepath.Dir(path), argv)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ActionResult{}, Fail(fmt.Sprintf("script '%s' timed out", name), err)
		}
		return domain.ActionResult{}, Fail("could not run the script", err)
	}

	out := string(stdout)
	if len(stderr) > 0 {
		out += "\n[STDERR]\n" + string(stderr)
	}
	out = strings.TrimSpace(strings.ToValidUTF8(out, "�"))
	if out == "" {
		return Ok(fmt.Sprintf("✅ Script '%s' executed (exit code: %d)", name, code)), nil
	}
	if len(out) > maxScriptOutput {
		out = truncateBytes(out, maxScriptOutput) + "\n\n... [truncated]"
	}
	return Ok(fmt.Sprintf("📜 Script '%s' output (exit code: %d):\n```\n%s\n```", name, code, out)), nil
}

// interpreterFor выбирает интерпретатор по расширению файла.
func interpreterFor(path string) ([]string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".sh":
		return []string{"sh", path}, nil
	case ".ps1":
		return []string{"powershell", "-NoProfile", "-ExecutionPolicy", "Bypass", "-File", path}, nil
	case ".bat", ".cmd":
		if runtime.GOOS != "windows" {
			return nil, fmt.Errorf("%s scripts need windows", ext)
		}
		return []string{"cmd", "/c", path}, nil
	case ".py":
		py := "python3"
		if runtime.GOOS == "windows" {
			py = "python"
		}
		return []string{py, path}, nil
	default:
		return nil, fmt.Errorf("extension %q", ext)
	}
}
