package domain

// ErrorKind классифицирует отказ обработчика для ответа и метрик.
type ErrorKind string

const (
	ErrorNone           ErrorKind = "none"
	ErrorHandlerFailure ErrorKind = "handler_failure"
	ErrorTimeout        ErrorKind = "timeout"
	ErrorUnavailable    ErrorKind = "unavailable" // предохранитель разомкнут
)

type AttachmentKind string

const (
	AttachmentFile  AttachmentKind = "file"
	AttachmentImage AttachmentKind = "image"
)

// Attachment: бинарное вложение ответа (скриншот, запрошенный файл).
type Attachment struct {
	Path string         `json:"path"`
	Name string         `json:"name"`
	Kind AttachmentKind `json:"kind"`
}

// ActionResult: структурированный итог вызова обработчика.
// Роутер всегда возвращает его, даже если обработчик упал.
type ActionResult struct {
	Success    bool        `json:"success"`
	Output     string      `json:"output"`
	Error      ErrorKind   `json:"error"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// ReplyKind: что именно получил пользователь.
type ReplyKind string

const (
	ReplyResult       ReplyKind = "result"
	ReplyConfirmation ReplyKind = "confirmation"
	ReplyDenied       ReplyKind = "denied"
	ReplyError        ReplyKind = "error"
	ReplyIgnored      ReplyKind = "ignored"
)

// Reply: ответ, который транспорт доставит пользователю.
type Reply struct {
	Identity       Identity    `json:"identity"`
	Kind           ReplyKind   `json:"kind"`
	Text           string      `json:"text"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ConfirmationID string      `json:"confirmation_id,omitempty"`
}
