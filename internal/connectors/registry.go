package connectors

import (
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
)

// Deps: все, что нужно обработчикам.
type Deps struct {
	Paths        PathResolver // разрешенные каталоги
	ScriptsDir   PathResolver // каталог скриптов
	Apps         map[string]string
	Scripts      map[string]string
	Runner       Runner
	Killer       ProcessKiller
	Capturer     ScreenCapturer
	MaxReadBytes int64
	MaxSendBytes int64

	ScreenshotDir  string
	ScreenshotKeep int

	Started        time.Time
	Sandbox        bool
	SandboxLatency time.Duration
	StatusSource   []StatusSource

	Notes   memory.Notes
	History memory.History
	Stats   audit.StatsReader
}

// sideEffectFree: действия, которые ничего не меняют в системе и в песочнице
// исполняются по-настоящему.
var sideEffectFree = map[domain.ActionKind]bool{
	domain.ActionSystemStatus: true,
	domain.ActionListNotes:    true,
	domain.ActionStats:        true,
	domain.ActionHelp:         true,
	domain.ActionChat:         true,
}

// Build собирает обработчики на все действия.
func Build(d Deps, logger *zap.Logger) map[domain.ActionKind]Handler {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.Killer == nil {
		d.Killer = NewCommandKiller(d.Runner)
	}
	if d.Capturer == nil {
		d.Capturer = NewCommandCapturer(nil, d.Runner)
	}

	files := NewFiles(d.Paths, d.MaxReadBytes, d.MaxSendBytes)
	apps := NewApps(d.Apps, d.Runner)
	scripts := NewScripts(d.Scripts, d.ScriptsDir, d.Runner)
	mem := NewMemory(d.Notes, d.History, d.Stats)

	handlers := map[domain.ActionKind]Handler{
		domain.ActionOpenApp:      HandlerFunc(apps.OpenApp),
		domain.ActionReadFile:     HandlerFunc(files.ReadFile),
		domain.ActionListFiles:    HandlerFunc(files.ListFiles),
		domain.ActionSearchFiles:  HandlerFunc(files.SearchFiles),
		domain.ActionSendFile:     HandlerFunc(files.SendFile),
		domain.ActionScreenshot:   HandlerFunc(NewScreenshots(d.Capturer, d.ScreenshotDir, d.ScreenshotKeep).Screenshot),
		domain.ActionRunScript:    HandlerFunc(scripts.RunScript),
		domain.ActionSystemStatus: HandlerFunc(NewSystem(d.Started, d.Sandbox, d.StatusSource...).Status),
		domain.ActionKillProcess:  HandlerFunc(NewProcesses(d.Killer).KillProcess),
		domain.ActionDeleteFile:   HandlerFunc(files.DeleteFile),
		domain.ActionSaveNote:     HandlerFunc(mem.SaveNote),
		domain.ActionListNotes:    HandlerFunc(mem.ListNotes),
		domain.ActionClearHistory: HandlerFunc(mem.ClearHistory),
		domain.ActionStats:        HandlerFunc(mem.Stats),
		domain.ActionHelp:         HandlerFunc(NewHelp(apps.Names(), scripts.Names()).Help),
		domain.ActionChat:         HandlerFunc(Chat),
	}

	if d.Sandbox {
		for a := range handlers {
			if !sideEffectFree[a] {
				handlers[a] = NewSandbox(a, d.SandboxLatency, logger)
			}
		}
	}
	return handlers
}
