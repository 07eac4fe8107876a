package domain

import "context"

type identityKey struct{}

// WithIdentity кладет отправителя в контекст: обработчики заметок и истории
// работают только с данными этого пользователя.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom достает отправителя. Пустой результат значит "неизвестен".
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id != ""
}
