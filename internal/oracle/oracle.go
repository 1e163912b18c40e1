// Package oracle asks the language model for structured judgments and
// artifacts. Every answer is decoded strictly into a typed schema and
// validated before a caller sees it.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformed is returned when a response is empty, not JSON, or fails its
// schema. Callers treat it as a failure of the single item.
var ErrMalformed = eris.New("oracle: malformed response")

// Schema is a typed response that can check its own invariants.
type Schema interface {
	Validate() error
}

// Oracle is the language model collaborator.
type Oracle interface {
	// Classify returns a judgment about text. Cheap model, short output.
	Classify(ctx context.Context, text, instructions string, out Schema) error
	// Generate returns an artifact derived from text. Stronger model.
	Generate(ctx context.Context, text, instructions string, out Schema) error
}

type stageKey struct{}

// WithStage tags ctx so oracle cost is attributed to the calling stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

func stageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok {
		return s
	}
	return "unknown"
}

// Decode extracts the JSON object from raw (models sometimes wrap it in
// prose or code fences), decodes it into out rejecting unknown fields, and
// validates it.
func Decode(raw string, out Schema) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return eris.Wrap(ErrMalformed, "no JSON object in response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw[start : end+1])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return eris.Wrapf(ErrMalformed, "decode: %v", err)
	}
	if err := out.Validate(); err != nil {
		return eris.Wrapf(ErrMalformed, "validate: %v", err)
	}
	return nil
}
