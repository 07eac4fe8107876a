package domain

import "strings"

// ActionKind: закрытое перечисление действий, которые шлюз умеет исполнять.
// Добавление нового значения требует записи и в таблице политик, и в роутере:
// оба проверяют полноту при старте.
type ActionKind int

const (
	ActionOpenApp ActionKind = iota
	ActionReadFile
	ActionListFiles
	ActionSearchFiles
	ActionSendFile
	ActionScreenshot
	ActionRunScript
	ActionSystemStatus
	ActionKillProcess
	ActionDeleteFile
	ActionSaveNote
	ActionListNotes
	ActionClearHistory
	ActionStats
	ActionHelp
	ActionChat

	actionKindCount // граница перечисления, не действие
)

var actionNames = [actionKindCount]string{
	ActionOpenApp:      "open_app",
	ActionReadFile:     "read_file",
	ActionListFiles:    "list_files",
	ActionSearchFiles:  "search_files",
	ActionSendFile:     "send_file",
	ActionScreenshot:   "screenshot",
	ActionRunScript:    "run_script",
	ActionSystemStatus: "status",
	ActionKillProcess:  "kill_process",
	ActionDeleteFile:   "delete_file",
	ActionSaveNote:     "save_note",
	ActionListNotes:    "get_notes",
	ActionClearHistory: "clear_history",
	ActionStats:        "stats",
	ActionHelp:         "help",
	ActionChat:         "chat",
}

// String возвращает wire-имя действия (то, что возвращает модель).
func (a ActionKind) String() string {
	if !a.Valid() {
		return "unknown"
	}
	return actionNames[a]
}

// Valid сообщает, входит ли значение в перечисление.
func (a ActionKind) Valid() bool {
	return a >= 0 && a < actionKindCount
}

// ActionKinds перечисляет все действия в порядке объявления.
func ActionKinds() []ActionKind {
	kinds := make([]ActionKind, 0, actionKindCount)
	for k := ActionKind(0); k < actionKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ActionNames: wire-имена всех действий (для JSON Schema и системного промпта).
func ActionNames() []string {
	names := make([]string, 0, actionKindCount)
	for _, k := range ActionKinds() {
		names = append(names, k.String())
	}
	return names
}

// ParseActionKind разбирает имя действия. Неизвестное имя, это ошибка
// интерпретации у вызывающего, а не действие по умолчанию.
func ParseActionKind(name string) (ActionKind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range actionNames {
		if n == name {
			return ActionKind(k), true
		}
	}
	return 0, false
}

// Ключи аргументов, которые используют модель, политика и обработчики.
const (
	ArgAppName     = "app_name"
	ArgFilePath    = "file_path"
	ArgDirectory   = "directory"
	ArgQuery       = "query"
	ArgScriptName  = "script_name"
	ArgProcessName = "process_name"
	ArgResponse    = "response"
	ArgTitle       = "title"
	ArgContent     = "content"
)

// RequiredArgs: аргументы, без которых намерение не имеет смысла.
func RequiredArgs(a ActionKind) []string {
	switch a {
	case ActionOpenApp:
		return []string{ArgAppName}
	case ActionReadFile, ActionSendFile, ActionDeleteFile:
		return []string{ArgFilePath}
	case ActionListFiles:
		return []string{ArgDirectory}
	case ActionSearchFiles:
		return []string{ArgQuery, ArgDirectory}
	case ActionRunScript:
		return []string{ArgScriptName}
	case ActionKillProcess:
		return []string{ArgProcessName}
	case ActionSaveNote:
		return []string{ArgTitle}
	default:
		return nil
	}
}
