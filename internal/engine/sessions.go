package engine

import (
	"sync"
	"time"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Session хранит сериализованное состояние одного пользователя (окно лимитера
// и ожидающее подтверждение). Все чтения и изменения идут под mu.
// Пока исполняется обработчик, mu не удерживается.
type Session struct {
	mu       sync.Mutex
	identity domain.Identity
	window   []time.Time
	pending  *domain.PendingConfirmation

	refs int // защищено SessionRegistry.mu
}

func (s *Session) Identity() domain.Identity { return s.identity }

// idle: в сессии нет живого состояния, ее можно удалить.
// Вызывается только когда на сессию никто не ссылается.
func (s *Session) idle() bool {
	return len(s.window) == 0 && s.pending == nil
}

// SessionRegistry выдает по одной сессии на пользователя. Сессии создаются
// лениво и удаляются, когда их никто не держит и в них пусто.
// Общий мьютекс реестра держится только на время поиска в мапе.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[domain.Identity]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[domain.Identity]*Session)}
}

// Acquire возвращает сессию и увеличивает счетчик ссылок.
// Каждому Acquire должен соответствовать Release.
func (r *SessionRegistry) Acquire(id domain.Identity) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = &Session{identity: id}
		r.sessions[id] = s
	}
	s.refs++
	return s
}

// Release отпускает сессию и удаляет ее, если она больше не нужна.
func (r *SessionRegistry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return
	}
	// refs == 0: никто не держит ссылку, поля читаем без s.mu
	if s.idle() && r.sessions[s.identity] == s {
		delete(r.sessions, s.identity)
	}
}

// With исполняет fn под замком сессии пользователя.
func (r *SessionRegistry) With(id domain.Identity, fn func(s *Session)) {
	s := r.Acquire(id)
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
	r.Release(s)
}

// Identities: снимок пользователей, у которых сейчас есть сессия.
func (r *SessionRegistry) Identities() []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]domain.Identity, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len: количество живых сессий.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
