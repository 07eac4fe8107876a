package interpreter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClassifier(url string) *OllamaClassifier {
	return NewOllamaClassifier(OllamaConfig{
		BaseURL:     url + "/",
		Model:       "llama3.2",
		Timeout:     time.Second,
		Temperature: 0.1,
	}, zap.NewNop())
}

func TestOllamaClassifier_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req["model"])
		assert.Equal(t, "json", req["format"])
		assert.Equal(t, false, req["stream"])
		assert.Equal(t, "open chrome", req["prompt"])
		assert.Contains(t, req["system"], "open_app")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    "llama3.2",
			"response": "```json\n{\"intent\":\"open browser\",\"action\":\"open_app\",\"parameters\":{\"app_name\":\"chrome\"},\"confidence\":0.92}\n```",
			"done":     true,
		})
	}))
	defer srv.Close()

	schema, err := NewActionSchema()
	require.NoError(t, err)

	c, err := newTestClassifier(srv.URL).Classify(context.Background(), "open chrome", schema)
	require.NoError(t, err)
	assert.Equal(t, "open_app", c.Action)
	assert.Equal(t, "chrome", c.Arguments["app_name"])
	assert.InDelta(t, 0.92, c.Confidence, 1e-9)
}

func TestOllamaClassifier_MissingConfidenceDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": `{"action":"status","parameters":{}}`})
	}))
	defer srv.Close()

	schema, err := NewActionSchema()
	require.NoError(t, err)

	c, err := newTestClassifier(srv.URL).Classify(context.Background(), "status", schema)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.Confidence, 1e-9)
}

func TestOllamaClassifier_Errors(t *testing.T) {
	schema, err := NewActionSchema()
	require.NoError(t, err)

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestClassifier(srv.URL).Classify(context.Background(), "x", schema)
		assert.Error(t, err)
	})

	t.Run("garbage output", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"response": "I cannot help with that."})
		}))
		defer srv.Close()

		_, err := newTestClassifier(srv.URL).Classify(context.Background(), "x", schema)
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c := newTestClassifier(srv.URL)
		c.cfg.Timeout = 50 * time.Millisecond
		_, err := c.Classify(context.Background(), "x", schema)
		assert.ErrorIs(t, err, ErrModelTimeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newTestClassifier(url).Classify(context.Background(), "x", schema)
		assert.ErrorIs(t, err, ErrModelUnavailable)
	})
}

func TestOllamaClassifier_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, newTestClassifier(srv.URL).Available(context.Background()))

	srv.Close()
	assert.False(t, newTestClassifier(srv.URL).Available(context.Background()))
}
