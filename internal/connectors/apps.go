package connectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Apps запускает приложения из белого списка "имя -> команда".
type Apps struct {
	commands map[string][]string
	runner   Runner
}

func NewApps(apps map[string]string, runner Runner) *Apps {
	commands := make(map[string][]string, len(apps))
	for name, cmd := range apps {
		if argv := SplitCommand(cmd); len(argv) > 0 {
			commands[strings.ToLower(strings.TrimSpace(name))] = argv
		}
	}
	return &Apps{commands: commands, runner: runner}
}

// Names: ключи белого списка (для политики).
func (a *Apps) Names() []string {
	names := make([]string, 0, len(a.commands))
	for n := range a.commands {
		names = append(names, n)
	}
	return names
}

func (a *Apps) OpenApp(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	name := strings.ToLower(strings.TrimSpace(args[domain.ArgAppName]))
	argv, ok := a.commands[name]
	if !ok {
		return domain.ActionResult{}, Fail("application not permitted", nil)
	}
	if err := a.runner.Start(ctx, argv); err != nil {
		return domain.ActionResult{}, Fail("could not open "+name, err)
	}
	return Ok(fmt.Sprintf("✅ Opened: %s", name)), nil
}
