package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Identity: непрозрачный идентификатор отправителя в чат-платформе.
type Identity string

// Intent: структурированное намерение, полученное из свободного текста.
// После создания не меняется: аргументы копируются и отдаются только на чтение.
type Intent struct {
	action      ActionKind
	arguments   map[string]string
	rawText     string
	destructive bool
	confidence  float64
}

// NewIntent собирает намерение. Флаг destructive вычисляет вызывающий по
// действию (таблица из конфигурации), а не по пользовательскому вводу.
func NewIntent(action ActionKind, args map[string]string, rawText string, destructive bool, confidence float64) Intent {
	copied := make(map[string]string, len(args))
	for k, v := range args {
		copied[k] = v
	}
	return Intent{
		action:      action,
		arguments:   copied,
		rawText:     rawText,
		destructive: destructive,
		confidence:  confidence,
	}
}

func (i Intent) Action() ActionKind  { return i.action }
func (i Intent) RawText() string     { return i.rawText }
func (i Intent) Destructive() bool   { return i.destructive }
func (i Intent) Confidence() float64 { return i.confidence }

// Arg возвращает аргумент без пробелов по краям.
func (i Intent) Arg(key string) string {
	return strings.TrimSpace(i.arguments[key])
}

// Arguments отдает копию аргументов.
func (i Intent) Arguments() map[string]string {
	out := make(map[string]string, len(i.arguments))
	for k, v := range i.arguments {
		out[k] = v
	}
	return out
}

// Summary: короткое описание для аудита и подтверждений.
// Ответ модели для chat не попадает в аудит целиком.
func (i Intent) Summary() string {
	keys := make([]string, 0, len(i.arguments))
	for k := range i.arguments {
		if k == ArgResponse {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := i.arguments[k]
		if len(v) > 120 {
			v = v[:120] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	if len(parts) == 0 {
		return i.action.String()
	}
	return i.action.String() + " " + strings.Join(parts, " ")
}

// PolicyDecision: результат одной проверки намерения по белым спискам.
type PolicyDecision struct {
	Allowed bool
	Reason  string
}

func Allow() PolicyDecision              { return PolicyDecision{Allowed: true} }
func Deny(reason string) PolicyDecision { return PolicyDecision{Reason: reason} }

// InboundMessage: конверт входящего сообщения от транспорта.
type InboundMessage struct {
	Identity   Identity
	Text       string
	MessageID  string
	ReplyTo    string // id подтверждения, на которое отвечает пользователь
	Token      string // командный токен, если клиент его передал
	ReceivedAt time.Time
}
