package engine

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// TokenGate проверяет общий командный токен для действий, помеченных в таблице
// политик. Сравнение идет по SHA-256 дайджестам через subtle, поэтому время
// не зависит ни от длины совпавшего префикса, ни от длины токена.
type TokenGate struct {
	digest     [sha256.Size]byte
	bcryptHash []byte
	configured bool
}

// NewTokenGate принимает секрет открытым текстом или bcrypt-хешем.
// Если не задано ничего, Verify всегда false (fail closed).
func NewTokenGate(secret, bcryptHash string) *TokenGate {
	g := &TokenGate{}
	switch {
	case bcryptHash != "":
		g.bcryptHash = []byte(bcryptHash)
		g.configured = true
	case secret != "":
		g.digest = sha256.Sum256([]byte(secret))
		g.configured = true
	}
	return g
}

// Configured: задан ли секрет вообще.
func (g *TokenGate) Configured() bool { return g.configured }

func (g *TokenGate) Verify(provided string) bool {
	if !g.configured || provided == "" {
		return false
	}
	if g.bcryptHash != nil {
		return bcrypt.CompareHashAndPassword(g.bcryptHash, []byte(provided)) == nil
	}
	got := sha256.Sum256([]byte(provided))
	return subtle.ConstantTimeCompare(got[:], g.digest[:]) == 1
}
