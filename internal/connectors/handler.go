package connectors

import (
	"context"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Handler исполняет одно действие. Аргументы уже прошли политику.
// Ошибка означает сбой; ActionResult при этом игнорируется.
type Handler interface {
	Execute(ctx context.Context, args map[string]string) (domain.ActionResult, error)
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(ctx context.Context, args map[string]string) (domain.ActionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, args map[string]string) (domain.ActionResult, error) {
	return f(ctx, args)
}

// Ok: успешный текстовый результат.
func Ok(output string) domain.ActionResult {
	return domain.ActionResult{Success: true, Output: output}
}
