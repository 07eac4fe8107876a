package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		action string
	}{
		{"plain", `{"action":"status","parameters":{}}`, "status"},
		{"fenced", "```json\n{\"action\":\"help\",\"parameters\":{}}\n```", "help"},
		{"surrounding prose", `Sure! Here you go: {"action":"chat","parameters":{"response":"hi {there}"}} Anything else?`, "chat"},
		{"escaped quote in string", `{"action":"chat","parameters":{"response":"say \"}\" twice"}}`, "chat"},
		{"first object wins", `{"action":"status"} {"action":"kill_process"}`, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ExtractJSON[modelOutput](tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.action, out.Action)
		})
	}
}

func TestExtractJSON_Invalid(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"action": "status"`, `{"action": }`} {
		_, err := ExtractJSON[modelOutput](raw)
		assert.ErrorIs(t, err, ErrInvalidOutput, raw)
	}
}
