package connectors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Chat возвращает разговорный ответ модели. Побочных эффектов нет.
func Chat(_ context.Context, args map[string]string) (domain.ActionResult, error) {
	resp := strings.TrimSpace(args[domain.ArgResponse])
	if resp == "" {
		resp = "🤖 I'm here. Send /help to see what I can do."
	}
	return Ok(resp), nil
}

// Help: справка по доступным действиям.
type Help struct {
	apps    []string
	scripts []string
}

func NewHelp(apps, scripts []string) *Help {
	h := &Help{apps: append([]string(nil), apps...), scripts: append([]string(nil), scripts...)}
	sort.Strings(h.apps)
	sort.Strings(h.scripts)
	return h
}

func (h *Help) Help(_ context.Context, _ map[string]string) (domain.ActionResult, error) {
	var b strings.Builder
	b.WriteString("🤖 Remote Command Gateway\n\n")
	b.WriteString("Send a plain-language request, for example:\n")
	b.WriteString("  • open chrome\n")
	b.WriteString("  • list files in ~/Desktop\n")
	b.WriteString("  • read ~/Desktop/notes.txt\n")
	b.WriteString("  • find report in ~/Documents\n")
	b.WriteString("  • send me ~/Desktop/photo.jpg\n")
	b.WriteString("  • take a screenshot\n")
	b.WriteString("  • run backup\n")
	b.WriteString("  • status\n")
	b.WriteString("  • kill notepad\n")
	b.WriteString("  • delete ~/Desktop/old.txt\n")
	b.WriteString("  • save a note groceries: milk, bread\n")
	b.WriteString("  • show my notes\n")
	b.WriteString("  • my stats\n")
	b.WriteString("  • clear history\n\n")
	b.WriteString("Destructive actions ask for confirmation: reply YES to proceed, anything else cancels.\n")
	b.WriteString("Some actions need your command token.\n")
	if len(h.apps) > 0 {
		fmt.Fprintf(&b, "\n📱 Apps: %s", strings.Join(h.apps, ", "))
	}
	if len(h.scripts) > 0 {
		fmt.Fprintf(&b, "\n📜 Scripts: %s", strings.Join(h.scripts, ", "))
	}
	return Ok(b.String()), nil
}
