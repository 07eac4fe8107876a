package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

var (
	affirmativeReplies = map[string]struct{}{
		"yes": {}, "y": {}, "confirm": {}, "ok": {}, "do it": {}, "haan": {}, "ha": {},
	}
	negativeReplies = map[string]struct{}{
		"no": {}, "n": {}, "cancel": {}, "stop": {}, "abort": {}, "nahi": {},
	}
)

// ReplyOutcome: чем оказалось сообщение для workflow подтверждений.
type ReplyOutcome int

const (
	ReplyNone      ReplyOutcome = iota // обычный запрос, идет дальше по конвейеру
	ReplyConfirmed                     // владелец сказал "да", намерение уходит в роутер
	ReplyRejected                      // владелец отказался
)

// Resolution: результат разбора сообщения на фоне ожидающего подтверждения.
type Resolution struct {
	Outcome      ReplyOutcome
	Confirmation *domain.PendingConfirmation // подтвержденное или отклоненное
	Expired      *domain.PendingConfirmation // истекло при этой проверке, нужно записать в аудит
}

// ConfirmationWorkflow: автомат NONE → PENDING → {CONFIRMED, REJECTED, EXPIRED}
// на пользователя. Не больше одного ожидающего подтверждения на пользователя:
// новое разрушительное намерение вытесняет старое.
type ConfirmationWorkflow struct {
	sessions *SessionRegistry
	timeout  time.Duration
	newID    func() string
}

func NewConfirmationWorkflow(sessions *SessionRegistry, timeout time.Duration) *ConfirmationWorkflow {
	return &ConfirmationWorkflow{
		sessions: sessions,
		timeout:  timeout,
		newID:    uuid.NewString,
	}
}

// Begin ставит намерение в ожидание. Возвращает новое подтверждение и
// вытесненное (уже REJECTED), если оно было.
func (w *ConfirmationWorkflow) Begin(id domain.Identity, intent domain.Intent, now time.Time) (domain.PendingConfirmation, *domain.PendingConfirmation) {
	var created domain.PendingConfirmation
	var replaced *domain.PendingConfirmation
	w.sessions.With(id, func(s *Session) {
		created, replaced = w.beginLocked(s, intent, now)
	})
	return created, replaced
}

// Resolve разбирает ответ пользователя. Ошибки: ErrConfirmationExpired,
// ErrConfirmationMismatch.
func (w *ConfirmationWorkflow) Resolve(msg domain.InboundMessage, now time.Time) (Resolution, error) {
	var res Resolution
	var err error
	w.sessions.With(msg.Identity, func(s *Session) {
		res, err = w.resolveLocked(s, msg, now)
	})
	return res, err
}

// Pending: копия текущего подтверждения пользователя (для тестов и API).
func (w *ConfirmationWorkflow) Pending(id domain.Identity) (domain.PendingConfirmation, bool) {
	var p domain.PendingConfirmation
	var ok bool
	w.sessions.With(id, func(s *Session) {
		if s.pending != nil {
			p, ok = *s.pending, true
		}
	})
	return p, ok
}

func (w *ConfirmationWorkflow) beginLocked(s *Session, intent domain.Intent, now time.Time) (domain.PendingConfirmation, *domain.PendingConfirmation) {
	var replaced *domain.PendingConfirmation
	if old := s.pending; old != nil && old.Status == domain.StatusPending {
		// последний запрос побеждает, прежний неявно отклонен
		if err := old.Transition(domain.StatusRejected); err == nil {
			cp := *old
			replaced = &cp
		}
	}

	p := &domain.PendingConfirmation{
		ID:        w.newID(),
		Identity:  s.identity,
		Intent:    intent,
		Status:    domain.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(w.timeout),
	}
	s.pending = p
	return *p, replaced
}

func (w *ConfirmationWorkflow) resolveLocked(s *Session, msg domain.InboundMessage, now time.Time) (Resolution, error) {
	var res Resolution
	kind := classifyReply(msg.Text)
	isReply := kind != replyOther || msg.ReplyTo != ""

	// Просроченное ожидание переводим в EXPIRED до любого решения
	if p := s.pending; p != nil && p.Status == domain.StatusPending && p.ExpiredAt(now) {
		if err := p.Transition(domain.StatusExpired); err == nil {
			cp := *p
			res.Expired = &cp
		}
	}

	p := s.pending
	if p == nil {
		if isReply {
			return res, domain.NewGateError(domain.ErrConfirmationMismatch, "", nil)
		}
		return res, nil
	}

	// Ответ на чужое (или уже замененное) подтверждение игнорируется,
	// свое ожидание при этом не трогаем
	if msg.ReplyTo != "" && msg.ReplyTo != p.ID {
		return res, domain.NewGateError(domain.ErrConfirmationMismatch, "", nil)
	}

	if p.Status != domain.StatusPending {
		// Надгробие EXPIRED: поздний ответ отвергается, новый запрос идет заново
		s.pending = nil
		if isReply {
			return res, domain.NewGateError(domain.ErrConfirmationExpired, "", nil)
		}
		return res, nil
	}

	switch kind {
	case replyAffirmative:
		if err := p.Transition(domain.StatusConfirmed); err != nil {
			return res, domain.NewGateError(domain.ErrConfirmationMismatch, "", err)
		}
		s.pending = nil
		cp := *p
		res.Outcome, res.Confirmation = ReplyConfirmed, &cp
	case replyNegative:
		if err := p.Transition(domain.StatusRejected); err != nil {
			return res, domain.NewGateError(domain.ErrConfirmationMismatch, "", err)
		}
		s.pending = nil
		cp := *p
		res.Outcome, res.Confirmation = ReplyRejected, &cp
	default:
		if msg.ReplyTo != "" {
			// Ответ на запрос подтверждения без "да", отказ
			if err := p.Transition(domain.StatusRejected); err == nil {
				s.pending = nil
				cp := *p
				res.Outcome, res.Confirmation = ReplyRejected, &cp
			}
		}
		// Иначе это новый запрос; ожидание живет до таймаута или замены
	}
	return res, nil
}

// Sweep переводит просроченные ожидания в EXPIRED и удаляет старые надгробия.
// Возвращает подтверждения, истекшие при этом проходе.
func (w *ConfirmationWorkflow) Sweep(now time.Time) []domain.PendingConfirmation {
	var expired []domain.PendingConfirmation
	for _, id := range w.sessions.Identities() {
		w.sessions.With(id, func(s *Session) {
			p := s.pending
			if p == nil {
				return
			}
			if p.Status == domain.StatusPending && p.ExpiredAt(now) {
				if err := p.Transition(domain.StatusExpired); err == nil {
					expired = append(expired, *p)
				}
				return
			}
			if p.Status == domain.StatusExpired && !now.Before(p.ExpiresAt.Add(w.timeout)) {
				s.pending = nil
			}
		})
	}
	return expired
}

// CountPending: сколько подтверждений сейчас в статусе PENDING.
func (w *ConfirmationWorkflow) CountPending() int {
	n := 0
	for _, id := range w.sessions.Identities() {
		w.sessions.With(id, func(s *Session) {
			if s.pending != nil && s.pending.Status == domain.StatusPending {
				n++
			}
		})
	}
	return n
}

type replyKind int

const (
	replyOther replyKind = iota
	replyAffirmative
	replyNegative
)

func classifyReply(text string) replyKind {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, "!.? ")
	if _, ok := affirmativeReplies[t]; ok {
		return replyAffirmative
	}
	if _, ok := negativeReplies[t]; ok {
		return replyNegative
	}
	return replyOther
}
