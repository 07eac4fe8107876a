package engine

import "github.com/xela07ax/remote-command-gateway/internal/domain"

// IdentityGate: неизменяемое множество разрешенных пользователей,
// собранное из конфигурации при старте.
type IdentityGate struct {
	allowed map[domain.Identity]struct{}
}

func NewIdentityGate(ids []string) *IdentityGate {
	allowed := make(map[domain.Identity]struct{}, len(ids))
	for _, id := range ids {
		allowed[domain.Identity(id)] = struct{}{}
	}
	return &IdentityGate{allowed: allowed}
}

func (g *IdentityGate) Authorize(id domain.Identity) bool {
	if id == "" {
		return false
	}
	_, ok := g.allowed[id]
	return ok
}
