package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
)

const (
	notesShown  = 10
	statsTop    = 5
	notePreview = 80
)

var errNoIdentity = errors.New("identity missing from context")

// Memory: заметки, история и статистика отправителя. Пользователь берется
// из контекста, аргументы на него не влияют.
type Memory struct {
	notes   memory.Notes
	history memory.History
	stats   audit.StatsReader
}

func NewMemory(notes memory.Notes, history memory.History, stats audit.StatsReader) *Memory {
	return &Memory{notes: notes, history: history, stats: stats}
}

func sender(ctx context.Context) (domain.Identity, error) {
	id, ok := domain.IdentityFrom(ctx)
	if !ok {
		return "", Fail("sender is unknown", errNoIdentity)
	}
	return id, nil
}

func (m *Memory) SaveNote(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	if m.notes == nil {
		return domain.ActionResult{}, ErrUnavailable
	}
	id, err := sender(ctx)
	if err != nil {
		return domain.ActionResult{}, err
	}
	title := strings.TrimSpace(args[domain.ArgTitle])
	if title == "" {
		return domain.ActionResult{}, Fail("a note needs a title", nil)
	}
	n, err := m.notes.SaveNote(ctx, id, title, strings.TrimSpace(args[domain.ArgContent]))
	if err != nil {
		return domain.ActionResult{}, Fail("could not save the note", err)
	}
	return Ok(fmt.Sprintf("📝 Note saved (#%d).", n)), nil
}

func (m *Memory) ListNotes(ctx context.Context, _ map[string]string) (domain.ActionResult, error) {
	if m.notes == nil {
		return domain.ActionResult{}, ErrUnavailable
	}
	id, err := sender(ctx)
	if err != nil {
		return domain.ActionResult{}, err
	}
	notes, err := m.notes.Notes(ctx, id, notesShown)
	if err != nil {
		return domain.ActionResult{}, Fail("could not load notes", err)
	}
	if len(notes) == 0 {
		return Ok("📝 No notes saved yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 Your notes (%d):\n", len(notes))
	for _, n := range notes {
		fmt.Fprintf(&b, "\n#%d %s (%s)", n.ID, n.Title, n.CreatedAt.Format("2006-01-02 15:04"))
		if n.Content != "" {
			fmt.Fprintf(&b, "\n   %s", memory.Clip(n.Content, notePreview))
		}
	}
	return Ok(b.String()), nil
}

func (m *Memory) ClearHistory(ctx context.Context, _ map[string]string) (domain.ActionResult, error) {
	if m.history == nil {
		return domain.ActionResult{}, ErrUnavailable
	}
	id, err := sender(ctx)
	if err != nil {
		return domain.ActionResult{}, err
	}
	n, err := m.history.Clear(ctx, id)
	if err != nil {
		return domain.ActionResult{}, Fail("could not clear the history", err)
	}
	return Ok(fmt.Sprintf("🧹 Cleared %d messages from history.", n)), nil
}

func (m *Memory) Stats(ctx context.Context, _ map[string]string) (domain.ActionResult, error) {
	if m.stats == nil {
		return domain.ActionResult{}, ErrUnavailable
	}
	id, err := sender(ctx)
	if err != nil {
		return domain.ActionResult{}, err
	}
	s, err := m.stats.Stats(ctx, string(id), statsTop)
	if err != nil {
		return domain.ActionResult{}, Fail("could not load statistics", err)
	}

	lines := []string{
		"📊 Your statistics",
		"",
		fmt.Sprintf("Total actions: %d", s.Total),
		fmt.Sprintf("✅ Succeeded: %d", s.Succeeded),
		fmt.Sprintf("❌ Failed: %d", s.Failed),
	}
	if len(s.Top) > 0 {
		lines = append(lines, "", "🏆 Most used:")
		for i, c := range s.Top {
			lines = append(lines, fmt.Sprintf("%d. %s: %d", i+1, c.Action, c.Count))
		}
	}
	return Ok(strings.Join(lines, "\n")), nil
}
