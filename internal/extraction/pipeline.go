package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/dialbridge-backend/internal/pkg/logger"
	"github.com/yungbote/dialbridge-backend/internal/types"
)

// Generator is the single capability the pipeline needs from a language-model
// backend. One implementation per vendor; the pipeline never sees a concrete
// client.
type Generator interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

// notFoundSentinel is what the backend is instructed to emit when the
// transcript has no supporting evidence for a field. It is translated to a
// nil value, never surfaced to callers.
const notFoundSentinel = "NOT_FOUND"

const systemPrompt = `You extract one structured field from a call transcript.
Reply with a single JSON object: {"value": <string>, "confidence": <number 0..1>}.
If the transcript contains no evidence for the field, reply exactly
{"value": "NOT_FOUND", "confidence": 0}. Never invent a value.`

type Pipeline struct {
	log       *logger.Logger
	generator Generator
	// maxParallel bounds concurrent backend requests per transcript.
	maxParallel int
}

func NewPipeline(log *logger.Logger, generator Generator, maxParallel int) *Pipeline {
	if maxParallel < 1 {
		maxParallel = 4
	}
	return &Pipeline{
		log:         log.With("component", "ExtractionPipeline"),
		generator:   generator,
		maxParallel: maxParallel,
	}
}

// Extract runs one backend request per schema field and assembles the result
// map. Fields are independent: a failed or malformed reply for one field
// yields {nil, 0.0} for that field and never aborts the others.
func (p *Pipeline) Extract(ctx context.Context, transcript string, schema []types.SchemaField) map[string]types.FieldResult {
	results := make([]types.FieldResult, len(schema))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)
	for i, field := range schema {
		i, field := i, field
		g.Go(func() error {
			results[i] = p.extractField(gctx, transcript, field)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]types.FieldResult, len(schema))
	for i, field := range schema {
		out[field.FieldName] = results[i]
	}
	return out
}

func (p *Pipeline) extractField(ctx context.Context, transcript string, field types.SchemaField) types.FieldResult {
	raw, err := p.generator.GenerateText(ctx, systemPrompt, fieldPrompt(transcript, field))
	if err != nil {
		p.log.Warn("Field extraction backend failure",
			"field", field.FieldName,
			"error", err.Error(),
		)
		return types.FieldResult{Value: nil, Confidence: 0}
	}

	value, confidence, err := parseFieldReply(raw)
	if err != nil {
		p.log.Warn("Field extraction reply unparseable",
			"field", field.FieldName,
			"error", err.Error(),
		)
		return types.FieldResult{Value: nil, Confidence: 0}
	}
	return types.FieldResult{Value: value, Confidence: confidence}
}

func fieldPrompt(transcript string, field types.SchemaField) string {
	var b strings.Builder
	b.WriteString("Field name: ")
	b.WriteString(field.FieldName)
	b.WriteString("\n")
	if strings.TrimSpace(field.Description) != "" {
		b.WriteString("Field description: ")
		b.WriteString(field.Description)
		b.WriteString("\n")
	}
	if strings.TrimSpace(field.TypeHint) != "" {
		b.WriteString("Expected type: ")
		b.WriteString(field.TypeHint)
		b.WriteString("\n")
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

type fieldReply struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func parseFieldReply(raw string) (*string, float64, error) {
	raw = strings.TrimSpace(raw)
	// Some backends wrap JSON in a fenced block even when told not to.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var reply fieldReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, 0, fmt.Errorf("parse field reply: %w; raw=%s", err, raw)
	}

	value := strings.TrimSpace(reply.Value)
	if value == "" || strings.EqualFold(value, notFoundSentinel) {
		return nil, 0, nil
	}

	confidence := reply.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &value, confidence, nil
}
