package connectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// ErrNoProcess: процесс с таким именем не найден.
var ErrNoProcess = errors.New("no matching process")

// ProcessKiller завершает процессы по точному имени и возвращает их количество.
type ProcessKiller interface {
	Kill(ctx context.Context, name string) (int, error)
}

// CommandKiller: pgrep/pkill на unix, tasklist/taskkill на windows.
type CommandKiller struct {
	runner Runner
}

func NewCommandKiller(runner Runner) *CommandKiller {
	return &CommandKiller{runner: runner}
}

func (k *CommandKiller) Kill(ctx context.Context, name string) (int, error) {
	if runtime.GOOS == "windows" {
		return k.killWindows(ctx, name)
	}

	out, _, code, err := k.runner.Run(ctx, "", []string{"pgrep", "-x", name})
	if err != nil {
		return 0, err
	}
	n := countLines(out)
	if code == 1 || n == 0 {
		return 0, ErrNoProcess
	}
	_, stderr, code, err := k.runner.Run(ctx, "", []string{"pkill", "-x", name})
	if err != nil {
		return 0, err
	}
	if code > 1 {
		return 0, fmt.Errorf("pkill exit %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return n, nil
}

func (k *CommandKiller) killWindows(ctx context.Context, name string) (int, error) {
	image := name
	if !strings.HasSuffix(strings.ToLower(image), ".exe") {
		image += ".exe"
	}
	out, _, _, err := k.runner.Run(ctx, "", []string{"tasklist", "/FI", "IMAGENAME eq " + image, "/NH", "/FO", "CSV"})
	if err != nil {
		return 0, err
	}
	n := bytes.Count(bytes.ToLower(out), []byte(`"`+strings.ToLower(image)+`"`))
	if n == 0 {
		return 0, ErrNoProcess
	}
	_, stderr, code, err := k.runner.Run(ctx, "", []string{"taskkill", "/IM", image, "/F"})
	if err != nil {
		return 0, err
	}
	if code != 0 {
		return 0, fmt.Errorf("taskkill exit %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return n, nil
}

// Processes: обработчик kill_process.
type Processes struct {
	killer ProcessKiller
}

func NewProcesses(killer ProcessKiller) *Processes {
	return &Processes{killer: killer}
}

func (p *Processes) KillProcess(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	name := strings.TrimSpace(args[domain.ArgProcessName])
	n, err := p.killer.Kill(ctx, name)
	if errors.Is(err, ErrNoProcess) {
		return domain.ActionResult{}, Fail(fmt.Sprintf("no running process found matching '%s'", name), err)
	}
	if err != nil {
		return domain.ActionResult{}, Fail("could not terminate the process", err)
	}
	return Ok(fmt.Sprintf("✅ Terminated %d process(es) matching '%s'", n, name)), nil
}

func countLines(b []byte) int {
	n := 0
	for _, line := range bytes.Split(b, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}
