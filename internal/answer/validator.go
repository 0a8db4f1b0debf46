package answer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/MikeSquared-Agency/herald/internal/ollama"
)

// ClientAnswer is the structured reply every generator turn is coerced into.
type ClientAnswer struct {
	Text        string `json:"text,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

// Canonical is the JSON form stored back into the conversation history.
func (a *ClientAnswer) Canonical() string {
	data, _ := json.Marshal(a)
	return string(data)
}

const clientAnswerSchema = `{
	"type": "object",
	"properties": {
		"text":        {"type": ["string", "null"]},
		"prompt":      {"type": ["string", "null"]},
		"orientation": {"type": ["string", "null"]}
	}
}`

var answerSchema = mustSchema(clientAnswerSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic("answer: invalid schema: " + err.Error())
	}
	return schema
}

// Generator is the streaming chat backend.
type Generator interface {
	Stream(ctx context.Context, messages []ollama.Message, temperature float64, onDelta func(string)) error
}

type ValidatorSettings struct {
	// Enabled turns on the secondary, context-free generator pass.
	Enabled     bool
	Prompt      string
	Temperature float64
}

type Validator struct {
	gen    Generator
	logger *slog.Logger
}

func NewValidator(gen Generator, logger *slog.Logger) *Validator {
	return &Validator{gen: gen, logger: logger}
}

var fenceReplacer = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"\t", " ",
	"```json", "",
	"```", "",
)

// Sanitize collapses line breaks and tabs to spaces and strips Markdown code fences.
func Sanitize(raw string) string {
	return strings.TrimSpace(fenceReplacer.Replace(raw))
}

// Validate turns raw generator output into a ClientAnswer.
// It reports false for anything unusable: a failed secondary pass, malformed JSON, or empty text and prompt.
func (v *Validator) Validate(ctx context.Context, raw string, settings ValidatorSettings) (*ClientAnswer, bool) {
	text := raw
	if settings.Enabled {
		var sb strings.Builder
		err := v.gen.Stream(ctx, []ollama.Message{
			{Role: "system", Content: settings.Prompt},
			{Role: "user", Content: raw},
		}, settings.Temperature, func(s string) { sb.WriteString(s) })
		if err != nil {
			v.logger.Error("validator pass failed", "error", err)
			return nil, false
		}
		text = sb.String()
	}

	text = Sanitize(text)
	v.logger.Debug("validator input", "temperature", settings.Temperature, "secondary_pass", settings.Enabled, "text", text)

	a, err := Parse(text)
	if err != nil {
		v.logger.Warn("answer rejected", "error", err)
		return nil, false
	}
	return a, true
}

// Parse checks sanitized text against the ClientAnswer schema and decodes it.
func Parse(text string) (*ClientAnswer, error) {
	result, err := answerSchema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, &ParseError{Reason: "not json", Err: err}
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, &ParseError{Reason: "schema: " + strings.Join(errs, "; ")}
	}

	var a ClientAnswer
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, &ParseError{Reason: "decode", Err: err}
	}
	a.Text = strings.TrimSpace(a.Text)
	a.Prompt = strings.TrimSpace(a.Prompt)
	a.Orientation = strings.TrimSpace(a.Orientation)

	if a.Text == "" && a.Prompt == "" {
		return nil, &ParseError{Reason: "empty text and prompt"}
	}
	return &a, nil
}

type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "invalid answer: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid answer: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }
