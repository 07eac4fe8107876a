package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrModelUnavailable = errors.New("language model unavailable")
	ErrModelTimeout     = errors.New("language model timed out")
)

// OllamaConfig: параметры подключения к локальной Ollama.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// OllamaClassifier реализует Classifier поверх POST /api/generate.
type OllamaClassifier struct {
	cfg    OllamaConfig
	http   *http.Client
	logger *zap.Logger
}

func NewOllamaClassifier(cfg OllamaConfig, logger *zap.Logger) *OllamaClassifier {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaClassifier{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		logger: logger.Named("ollama"),
	}
}

// ollamaRequest: тело POST /api/generate.
type ollamaRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system,omitempty"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// ollamaResponse: ответ /api/generate без стриминга.
type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// modelOutput: то, что модель должна вернуть по системному промпту.
type modelOutput struct {
	Intent     string         `json:"intent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Confidence *float64       `json:"confidence"`
}

func (c *OllamaClassifier) Classify(ctx context.Context, rawText string, schema *ActionSchema) (Classification, error) {
	start := time.Now()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.generate(ctx, ollamaRequest{
		Model:   c.cfg.Model,
		System:  schema.Prompt(),
		Prompt:  rawText,
		Stream:  false,
		Format:  "json",
		Options: ollamaOptions{Temperature: c.cfg.Temperature},
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Classification{}, ErrModelTimeout
		case isConnectionError(err):
			return Classification{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		default:
			return Classification{}, err
		}
	}

	out, err := ExtractJSON[modelOutput](resp.Response)
	if err != nil {
		return Classification{}, err
	}

	// без оценки уверенности считаем ответ средне уверенным
	confidence := 0.5
	if out.Confidence != nil {
		confidence = *out.Confidence
	}

	c.logger.Debug("classified",
		zap.String("action", out.Action),
		zap.Float64("confidence", confidence),
		zap.Duration("latency", time.Since(start)),
	)
	return Classification{
		Action:     out.Action,
		Arguments:  out.Parameters,
		Confidence: confidence,
	}, nil
}

func (c *OllamaClassifier) generate(ctx context.Context, body ollamaRequest) (*ollamaResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out ollamaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// Available проверяет, что сервер Ollama отвечает.
func (c *OllamaClassifier) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func isConnectionError(err error) bool {
	var netErr *net.OpError
	return errors.As(err, &netErr)
}
