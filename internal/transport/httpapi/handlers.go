package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

const (
	maxBodyBytes      = 64 << 10
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

var errAttachmentTooLarge = errors.New("attachment exceeds the send limit")

const attachmentWarning = "\n⚠️ The attachment could not be delivered."

type messageRequest struct {
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	ReplyTo   string `json:"reply_to"`
	Token     string `json:"token"`
}

type attachmentPayload struct {
	Name string                `json:"name"`
	Kind domain.AttachmentKind `json:"kind"`
	Data string                `json:"data"` // base64
}

type messageResponse struct {
	Text           string             `json:"text"`
	Kind           domain.ReplyKind   `json:"kind"`
	ConfirmationID string             `json:"confirmation_id,omitempty"`
	Attachment     *attachmentPayload `json:"attachment,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// POST /v1/messages
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	reply := s.deps.Gateway.HandleMessage(r.Context(), msg)
	writeJSON(w, http.StatusOK, s.response(r.Context(), reply))
}

// POST /v1/inbox: то же сообщение, но ответ уходит в чат, а не в тело.
func (s *Server) postInbox(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	if err := Relay(r.Context(), s.deps.Gateway, s.deps.Chat, msg); err != nil {
		s.logger.Error("reply delivery failed",
			zap.String("trace_id", TraceID(r.Context())),
			zap.String("identity", string(msg.Identity)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "reply delivery failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (domain.InboundMessage, bool) {
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return domain.InboundMessage{}, false
	}
	if req.Identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity is required"})
		return domain.InboundMessage{}, false
	}
	if req.MessageID == "" {
		req.MessageID = uuid.New().String()
	}
	return domain.InboundMessage{
		Identity:   domain.Identity(req.Identity),
		Text:       req.Text,
		MessageID:  req.MessageID,
		ReplyTo:    req.ReplyTo,
		Token:      req.Token,
		ReceivedAt: time.Now(),
	}, true
}

func (s *Server) response(ctx context.Context, reply domain.Reply) messageResponse {
	return buildResponse(reply, s.deps.MaxSendBytes, func(a *domain.Attachment, err error) {
		s.logger.Error("failed to attach file",
			zap.String("trace_id", TraceID(ctx)),
			zap.String("path", a.Path),
			zap.Error(err),
		)
	})
}

// buildResponse кодирует ответ для клиента. Не отданное вложение превращается в
// предупреждение в тексте, сам ответ не теряется.
func buildResponse(reply domain.Reply, maxBytes int64, onAttachErr func(*domain.Attachment, error)) messageResponse {
	resp := messageResponse{
		Text:           reply.Text,
		Kind:           reply.Kind,
		ConfirmationID: reply.ConfirmationID,
	}
	if reply.Attachment != nil {
		att, err := encodeAttachment(reply.Attachment, maxBytes)
		if err != nil {
			onAttachErr(reply.Attachment, err)
			resp.Text += attachmentWarning
		} else {
			resp.Attachment = att
		}
	}
	return resp
}

func encodeAttachment(a *domain.Attachment, maxBytes int64) (*attachmentPayload, error) {
	info, err := os.Stat(a.Path)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, errAttachmentTooLarge
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, err
	}
	return &attachmentPayload{
		Name: a.Name,
		Kind: a.Kind,
		Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// GET /v1/audit?limit=N
func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "audit reader is not configured"})
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	records, err := s.deps.Audit.Tail(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to fetch audit records", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch audit records"})
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
