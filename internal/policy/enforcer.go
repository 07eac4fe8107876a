package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Причины отказа. Содержимое белых списков в ответ не попадает.
const (
	ReasonPath            = "path not permitted"
	ReasonApp             = "application not permitted"
	ReasonScript          = "script not permitted"
	ReasonProcess         = "process not permitted"
	ReasonMissingArgument = "missing argument"
)

// Enforcer решает, допустимо ли намерение при текущей конфигурации.
type Enforcer interface {
	Evaluate(intent domain.Intent) domain.PolicyDecision
}

// Scope: по какому списку проверяется аргумент действия.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeDirectory
	ScopeApp
	ScopeScript
	ScopeProcess
)

// Rule: строка таблицы разрешений.
type Rule struct {
	Scope Scope
	Arg   string // аргумент, к которому применяется Scope
}

// DefaultRules возвращает таблицу по умолчанию, ровно одно правило на каждое действие.
func DefaultRules() map[domain.ActionKind]Rule {
	return map[domain.ActionKind]Rule{
		domain.ActionOpenApp:      {Scope: ScopeApp, Arg: domain.ArgAppName},
		domain.ActionReadFile:     {Scope: ScopeDirectory, Arg: domain.ArgFilePath},
		domain.ActionListFiles:    {Scope: ScopeDirectory, Arg: domain.ArgDirectory},
		domain.ActionSearchFiles:  {Scope: ScopeDirectory, Arg: domain.ArgDirectory},
		domain.ActionSendFile:     {Scope: ScopeDirectory, Arg: domain.ArgFilePath},
		domain.ActionScreenshot:   {Scope: ScopeNone},
		domain.ActionRunScript:    {Scope: ScopeScript, Arg: domain.ArgScriptName},
		domain.ActionSystemStatus: {Scope: ScopeNone},
		domain.ActionKillProcess:  {Scope: ScopeProcess, Arg: domain.ArgProcessName},
		domain.ActionDeleteFile:   {Scope: ScopeDirectory, Arg: domain.ArgFilePath},
		// заметки, история и статистика: только данные самого отправителя
		domain.ActionSaveNote:     {Scope: ScopeNone},
		domain.ActionListNotes:    {Scope: ScopeNone},
		domain.ActionClearHistory: {Scope: ScopeNone},
		domain.ActionStats:        {Scope: ScopeNone},
		domain.ActionHelp:         {Scope: ScopeNone},
		domain.ActionChat:         {Scope: ScopeNone},
	}
}

// Rules: конфигурация белых списков.
type Rules struct {
	AllowedDirs        []string
	Apps               []string // ключи белого списка приложений
	Scripts            []string // имена предопределенных скриптов
	ProtectedProcesses []string
}

// processNamePattern описывает голое имя процесса, без разделителей пути и метасимволов shell.
var processNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ -]{0,63}$`)

// TableEnforcer: табличная политика. Чистая функция от намерения и
// конфигурации, после создания не меняется.
type TableEnforcer struct {
	table     map[domain.ActionKind]Rule
	paths     *PathResolver
	apps      map[string]struct{}
	scripts   map[string]struct{}
	protected map[string]struct{}
}

// NewTableEnforcer проверяет, что таблица покрывает все действия.
func NewTableEnforcer(table map[domain.ActionKind]Rule, rules Rules) (*TableEnforcer, error) {
	for _, a := range domain.ActionKinds() {
		if _, ok := table[a]; !ok {
			return nil, fmt.Errorf("policy table has no rule for action %q", a)
		}
	}
	for a := range table {
		if !a.Valid() {
			return nil, fmt.Errorf("policy table has rule for unknown action %d", int(a))
		}
	}

	e := &TableEnforcer{
		table:     make(map[domain.ActionKind]Rule, len(table)),
		paths:     NewPathResolver(rules.AllowedDirs),
		apps:      lowerSet(rules.Apps),
		scripts:   lowerSet(rules.Scripts),
		protected: make(map[string]struct{}, len(rules.ProtectedProcesses)),
	}
	for a, r := range table {
		e.table[a] = r
	}
	for _, p := range rules.ProtectedProcesses {
		e.protected[normalizeProcess(p)] = struct{}{}
	}
	return e, nil
}

// Paths: резолвер путей, общий с файловыми обработчиками.
func (e *TableEnforcer) Paths() *PathResolver { return e.paths }

func (e *TableEnforcer) Evaluate(intent domain.Intent) domain.PolicyDecision {
	rule, ok := e.table[intent.Action()]
	if !ok {
		// сюда не попасть после NewTableEnforcer, но запрет по умолчанию
		return domain.Deny("action not permitted")
	}
	if rule.Scope == ScopeNone {
		return domain.Allow()
	}

	val := intent.Arg(rule.Arg)
	if val == "" {
		return domain.Deny(ReasonMissingArgument)
	}

	switch rule.Scope {
	case ScopeDirectory:
		if _, ok := e.paths.Resolve(val); !ok {
			return domain.Deny(ReasonPath)
		}
	case ScopeApp:
		if _, ok := e.apps[strings.ToLower(val)]; !ok {
			return domain.Deny(ReasonApp)
		}
	case ScopeScript:
		if _, ok := e.scripts[strings.ToLower(val)]; !ok {
			return domain.Deny(ReasonScript)
		}
	case ScopeProcess:
		if !processNamePattern.MatchString(val) {
			return domain.Deny(ReasonProcess)
		}
		if _, ok := e.protected[normalizeProcess(val)]; ok {
			return domain.Deny(ReasonProcess)
		}
	}
	return domain.Allow()
}

// ParseActions разбирает имена действий из конфигурации. Неизвестное имя, ошибка старта.
func ParseActions(names []string) (map[domain.ActionKind]struct{}, error) {
	set := make(map[domain.ActionKind]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		a, ok := domain.ParseActionKind(n)
		if !ok {
			return nil, fmt.Errorf("unknown action %q", n)
		}
		set[a] = struct{}{}
	}
	return set, nil
}

func lowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func normalizeProcess(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}
