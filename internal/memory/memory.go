// Package memory: история диалога и заметки пользователя.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// MaxMessageRunes: длиннее в историю не пишем.
const MaxMessageRunes = 10000

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message: одна реплика диалога.
type Message struct {
	Role   Role
	Text   string
	Action string // действие, которым ответил шлюз (только для assistant)
	At     time.Time
}

type Note struct {
	ID        int64
	Title     string
	Content   string
	CreatedAt time.Time
}

// History: реплики по пользователю, Recent отдает их в хронологическом порядке.
type History interface {
	Append(ctx context.Context, id domain.Identity, m Message) error
	Recent(ctx context.Context, id domain.Identity, n int) ([]Message, error)
	Clear(ctx context.Context, id domain.Identity) (int64, error)
}

type Notes interface {
	SaveNote(ctx context.Context, id domain.Identity, title, content string) (int64, error)
	Notes(ctx context.Context, id domain.Identity, n int) ([]Note, error)
}

// Store: то, что дает sqlite-хранилище.
type Store interface {
	History
	Notes
}

// ContextPrompt оборачивает запрос недавними репликами, каждая не длиннее maxRunes.
// Без истории запрос возвращается как есть.
func ContextPrompt(recent []Message, request string, maxRunes int) string {
	if len(recent) == 0 {
		return request
	}
	var b strings.Builder
	b.WriteString("Recent conversation context:\n")
	for _, m := range recent {
		who := "User"
		if m.Role == RoleAssistant {
			who = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, Clip(m.Text, maxRunes))
	}
	b.WriteString("\nCurrent request:\n")
	b.WriteString(request)
	return b.String()
}

// Clip режет строку по числу рун.
func Clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
