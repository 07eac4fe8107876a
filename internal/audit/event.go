package audit

import "time"

// Decision: итог шлюза для записи.
type Decision string

const (
	DecisionAllowed  Decision = "allowed"
	DecisionDenied   Decision = "denied"
	DecisionPending  Decision = "pending"
	DecisionRejected Decision = "rejected"
	DecisionExpired  Decision = "expired"
)

// Outcome: чем закончилось исполнение (none, если до него не дошло).
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNone    Outcome = "none"
)

// Record: одна запись журнала на каждое терминальное решение шлюза.
// Seq, PrevHash и Hash проставляет воркер журнала, вызывающий их не задает.
type Record struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	Identity      string    `json:"identity"`
	MessageID     string    `json:"message_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	IntentSummary string    `json:"intent_summary,omitempty"`
	Decision      Decision  `json:"decision"`
	Outcome       Outcome   `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	DurationMs    int64     `json:"duration_ms"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}
