package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

// Chat - push-транспорт (бот мессенджера), доставляет ответ пользователю.
type Chat interface {
	Send(ctx context.Context, reply domain.Reply) error
}

// Relay прогоняет входящее сообщение через шлюз и отправляет ответ в чат.
// Ответы ReplyIgnored не отправляются.
func Relay(ctx context.Context, gw MessageHandler, chat Chat, msg domain.InboundMessage) error {
	reply := gw.HandleMessage(ctx, msg)
	if reply.Kind == domain.ReplyIgnored {
		return nil
	}
	if reply.Identity == "" {
		reply.Identity = msg.Identity
	}
	if err := chat.Send(ctx, reply); err != nil {
		return fmt.Errorf("send reply to %s: %w", msg.Identity, err)
	}
	return nil
}

const webhookAttempts = 3

// pushMessage: тело POST на вебхук бота.
type pushMessage struct {
	Identity domain.Identity `json:"identity"`
	messageResponse
}

type webhookStatusError struct {
	code int
	body string
}

func (e *webhookStatusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.code, e.body)
}

// WebhookChat отдает ответы боту мессенджера POST-ом JSON на его вебхук.
type WebhookChat struct {
	url          string
	client       *http.Client
	maxSendBytes int64
	retryDelay   time.Duration
	logger       *zap.Logger
}

func NewWebhookChat(url string, timeout time.Duration, maxSendBytes int64, logger *zap.Logger) *WebhookChat {
	return &WebhookChat{
		url:          url,
		client:       &http.Client{Timeout: timeout},
		maxSendBytes: maxSendBytes,
		retryDelay:   200 * time.Millisecond,
		logger:       logger.Named("webhook-chat"),
	}
}

// Send повторяет доставку при сетевых сбоях и 5xx/429. Прочие 4xx сразу возвращаются.
func (c *WebhookChat) Send(ctx context.Context, reply domain.Reply) error {
	body, err := json.Marshal(pushMessage{
		Identity: reply.Identity,
		messageResponse: buildResponse(reply, c.maxSendBytes, func(a *domain.Attachment, err error) {
			c.logger.Error("failed to attach file", zap.String("path", a.Path), zap.Error(err))
		}),
	})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(webhookAttempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryableDelivery),
	)
	return r.Do(func() error { return c.post(ctx, body) })
}

func (c *WebhookChat) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &webhookStatusError{code: resp.StatusCode, body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func retryableDelivery(err error) bool {
	var se *webhookStatusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}
