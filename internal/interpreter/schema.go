package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
)

const schemaURL = "https://rcg.schemas.local/interpreter/classification.schema.json"

// ActionSpec описывает действие для модели: имя, назначение и аргументы.
type ActionSpec struct {
	Name        string
	Description string
	Args        []string
}

// ActionSchema: закрытый список действий и скомпилированная JSON Schema
// ответа модели. Строится один раз при старте.
type ActionSchema struct {
	Actions  []ActionSpec
	compiled *jsonschema.Schema
}

var actionDescriptions = map[domain.ActionKind]string{
	domain.ActionOpenApp:      "Open a whitelisted application",
	domain.ActionReadFile:     "Read a text file from an allowed directory",
	domain.ActionListFiles:    "List files in an allowed directory",
	domain.ActionSearchFiles:  "Search files by name inside an allowed directory",
	domain.ActionSendFile:     "Send a file from an allowed directory to the user",
	domain.ActionScreenshot:   "Take a screenshot of the screen",
	domain.ActionRunScript:    "Run a predefined script by name",
	domain.ActionSystemStatus: "Report system and assistant status",
	domain.ActionKillProcess:  "Terminate a running process by name",
	domain.ActionDeleteFile:   "Delete a file in an allowed directory",
	domain.ActionSaveNote:     "Save a note for the user",
	domain.ActionListNotes:    "Show the user's saved notes",
	domain.ActionClearHistory: "Forget the conversation history with the user",
	domain.ActionStats:        "Show the user's command usage statistics",
	domain.ActionHelp:         "Show help information",
	domain.ActionChat:         "General conversation, no PC action needed",
}

// NewActionSchema собирает схему по перечислению действий.
func NewActionSchema() (*ActionSchema, error) {
	specs := make([]ActionSpec, 0, len(domain.ActionKinds()))
	for _, a := range domain.ActionKinds() {
		args := domain.RequiredArgs(a)
		switch a {
		case domain.ActionChat:
			args = []string{domain.ArgResponse}
		case domain.ActionSaveNote:
			args = append(args, domain.ArgContent)
		}
		specs = append(specs, ActionSpec{
			Name:        a.String(),
			Description: actionDescriptions[a],
			Args:        args,
		})
	}

	doc := map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"action", "parameters"},
		"properties": map[string]any{
			"intent": map[string]any{"type": "string"},
			"action": map[string]any{"enum": domain.ActionNames()},
			"parameters": map[string]any{
				"type": "object",
				// только плоские скалярные значения
				"additionalProperties": map[string]any{"type": []string{"string", "number", "boolean", "null"}},
			},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal classification schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("classification schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("classification schema compile failed: %w", err)
	}
	return &ActionSchema{Actions: specs, compiled: compiled}, nil
}

// Validate проверяет классификацию против схемы.
func (s *ActionSchema) Validate(c Classification) error {
	params := make(map[string]any, len(c.Arguments))
	for k, v := range c.Arguments {
		params[k] = v
	}
	doc := map[string]any{
		"action":     c.Action,
		"parameters": params,
		"confidence": c.Confidence,
	}
	// приводим к тем типам, которые дает encoding/json
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.compiled.Validate(v)
}

// Prompt: системный промпт, сгенерированный из списка действий.
func (s *ActionSchema) Prompt() string {
	var b strings.Builder
	b.WriteString("You are a secure personal assistant running locally on the user's computer.\n")
	b.WriteString("You interpret natural language commands and return a structured JSON response.\n\n")
	b.WriteString("You MUST respond with ONLY a valid JSON object in this exact format:\n")
	b.WriteString(`{"intent": "brief description", "action": "one of the allowed actions", "parameters": {...}, "confidence": 0.0 to 1.0}`)
	b.WriteString("\n\nALLOWED ACTIONS and their parameters:\n")
	for i, a := range s.Actions {
		fmt.Fprintf(&b, "%d. %q: %s\n", i+1, a.Name, a.Description)
		if len(a.Args) == 0 {
			b.WriteString("   parameters: {}\n")
			continue
		}
		quoted := make([]string, len(a.Args))
		for j, arg := range a.Args {
			quoted[j] = fmt.Sprintf("%q: \"...\"", arg)
		}
		fmt.Fprintf(&b, "   parameters: {%s}\n", strings.Join(quoted, ", "))
	}
	b.WriteString("\nRULES:\n")
	b.WriteString("- Always respond with ONLY the JSON object, no extra text.\n")
	b.WriteString("- Parameter values must be plain strings.\n")
	b.WriteString("- If the user wants general conversation, use the \"chat\" action.\n")
	b.WriteString("- If you are unsure what the user wants, set confidence below 0.5.\n")
	b.WriteString("- Never invent actions outside the list.\n")
	return b.String()
}
