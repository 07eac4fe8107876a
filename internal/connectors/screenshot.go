package connectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// pathPlaceholder в команде снимка заменяется на путь выходного PNG.
const pathPlaceholder = "{path}"

// ScreenCapturer сохраняет снимок экрана в файл.
type ScreenCapturer interface {
	Capture(ctx context.Context, path string) error
}

// CommandCapturer снимает экран внешней утилитой.
type CommandCapturer struct {
	argv   []string
	runner Runner
}

// NewCommandCapturer берет команду из конфигурации, а без нее, утилиту ОС.
func NewCommandCapturer(argv []string, runner Runner) *CommandCapturer {
	if len(argv) == 0 {
		switch runtime.GOOS {
		case "darwin":
			argv = []string{"screencapture", "-x", pathPlaceholder}
		case "linux":
			argv = []string{"import", "-window", "root", pathPlaceholder}
		}
	}
	return &CommandCapturer{argv: argv, runner: runner}
}

func (c *CommandCapturer) Capture(ctx context.Context, path string) error {
	if len(c.argv) == 0 {
		return ErrUnavailable
	}
	argv := make([]string, len(c.argv))
	for i, a := range c.argv {
		argv[i] = strings.ReplaceAll(a, pathPlaceholder, path)
	}
	_, stderr, code, err := c.runner.Run(ctx, "", argv)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("capture exit %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Screenshots: обработчик screenshot. Хранит только keep последних снимков.
type Screenshots struct {
	capturer ScreenCapturer
	dir      string
	keep     int
	now      func() time.Time
}

func NewScreenshots(capturer ScreenCapturer, dir string, keep int) *Screenshots {
	return &Screenshots{capturer: capturer, dir: dir, keep: keep, now: time.Now}
}

func (s *Screenshots) Screenshot(ctx context.Context, _ map[string]string) (domain.ActionResult, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.ActionResult{}, Fail("could not prepare the screenshot directory", err)
	}
	name := fmt.Sprintf("screenshot_%s.png", s.now().Format("20060102_150405.000"))
	path := filepath.Join(s.dir, name)

	if err := s.capturer.Capture(ctx, path); err != nil {
		return domain.ActionResult{}, Fail("could not take a screenshot", err)
	}
	if _, err := os.Stat(path); err != nil {
		return domain.ActionResult{}, Fail("could not take a screenshot", err)
	}
	s.prune()

	return domain.ActionResult{
		Success:    true,
		Output:     "📸 Screenshot taken.",
		Attachment: &domain.Attachment{Path: path, Name: name, Kind: domain.AttachmentImage},
	}, nil
}

// prune удаляет старые снимки сверх keep. Имена сортируются по времени.
func (s *Screenshots) prune() {
	if s.keep <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "screenshot_*.png"))
	if err != nil || len(matches) <= s.keep {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-s.keep] {
		_ = os.Remove(old)
	}
}
