package connectors

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// StatusSource отдает дополнительные строки отчета (например, состояние модели).
type StatusSource func(ctx context.Context) []string

// System собирает отчет status (хост, ОС, ресурсы процесса шлюза).
type System struct {
	started time.Time
	sandbox bool
	extra   []StatusSource
}

func NewSystem(started time.Time, sandbox bool, extra ...StatusSource) *System {
	return &System{started: started, sandbox: sandbox, extra: extra}
}

func (s *System) Status(ctx context.Context, _ map[string]string) (domain.ActionResult, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	mode := "live"
	if s.sandbox {
		mode = "sandbox"
	}

	lines := []string{
		"💻 System Report",
		"",
		fmt.Sprintf("🖥️ Host: %s", host),
		fmt.Sprintf("🏗️ OS: %s/%s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("⚡ CPUs: %d", runtime.NumCPU()),
		fmt.Sprintf("⏱️ Gateway uptime: %s", time.Since(s.started).Truncate(time.Second)),
		fmt.Sprintf("🧵 Goroutines: %d", runtime.NumGoroutine()),
		fmt.Sprintf("🧠 Heap: %s in use, %s from OS", FormatSize(int64(mem.HeapInuse)), FormatSize(int64(mem.Sys))),
		fmt.Sprintf("🧪 Mode: %s", mode),
	}
	for _, src := range s.extra {
		lines = append(lines, src(ctx)...)
	}
	return Ok(strings.Join(lines, "\n")), nil
}
