package guest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

// DefaultHistoryWindow caps how many recent turns are sent to the model.
const DefaultHistoryWindow = 12

// Utterance is a generated guest line.
type Utterance struct {
	Content string
	Role    session.Speaker
}

// Generator produces guest turns and personas through the model.
type Generator struct {
	model  ai.Completer
	window int
	logger *logging.Logger
}

// NewGenerator builds a Generator. window <= 0 uses DefaultHistoryWindow.
func NewGenerator(model ai.Completer, window int, logger *logging.Logger) *Generator {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Generator{model: model, window: window, logger: logger.Named("guest")}
}

// GenerateTurn produces the next guest utterance. conversation must be empty
// (opening line) or end with a trainee turn. Inputs are not modified.
func (g *Generator) GenerateTurn(ctx context.Context, sc scenario.Scenario, p persona.Persona, conversation []session.Turn) (Utterance, error) {
	return g.StreamTurn(ctx, sc, p, conversation, nil)
}

// StreamTurn is GenerateTurn with the raw model output passed to onChunk as it arrives.
// The returned Utterance is the cleaned final line; onChunk may be nil.
func (g *Generator) StreamTurn(ctx context.Context, sc scenario.Scenario, p persona.Persona, conversation []session.Turn, onChunk func(string)) (Utterance, error) {
	query := openingQuery(p)
	history := conversation
	if n := len(conversation); n > 0 {
		last := conversation[n-1]
		if last.Speaker != session.Trainee {
			return Utterance{}, fmt.Errorf("%w: guest turn must follow a trainee turn", session.ErrInvalidTurnRole)
		}
		query = last.Content
		history = conversation[:n-1]
	}

	content, err := g.model.Complete(ctx, ai.Request{
		Purpose: ai.PurposeGuestTurn,
		System:  BuildSystemPrompt(sc, p),
		History: ai.History(history, g.window-1),
		Query:   query,
		OnChunk: onChunk,
	})
	if err != nil {
		return Utterance{}, fmt.Errorf("generate guest turn: %w", err)
	}

	content = cleanUtterance(content, p.Name)
	if content == "" {
		return Utterance{}, fmt.Errorf("generate guest turn: %w: blank utterance", ai.ErrModelError)
	}

	g.logger.For(ctx).Debug("guest turn generated",
		zap.String("persona", p.ID),
		zap.Int("history", len(conversation)),
		zap.Int("length", len(content)),
	)
	return Utterance{Content: content, Role: session.Guest}, nil
}

// GeneratePersona asks the model for a guest persona that fits sc.
func (g *Generator) GeneratePersona(ctx context.Context, sc scenario.Scenario, hint string) (persona.Persona, error) {
	content, err := g.model.Complete(ctx, ai.Request{
		Purpose: ai.PurposePersona,
		System:  personaSystemPrompt,
		Query:   personaQuery(sc, hint),
	})
	if err != nil {
		return persona.Persona{}, fmt.Errorf("generate persona: %w", err)
	}
	return decodePersona(content, "")
}

// RefinePersona rewrites p according to instructions, keeping its id.
func (g *Generator) RefinePersona(ctx context.Context, sc scenario.Scenario, p persona.Persona, instructions string) (persona.Persona, error) {
	if strings.TrimSpace(instructions) == "" {
		return p.Clone(), nil
	}

	content, err := g.model.Complete(ctx, ai.Request{
		Purpose: ai.PurposePersona,
		System:  personaSystemPrompt,
		Query:   refineQuery(sc, p, instructions),
	})
	if err != nil {
		return persona.Persona{}, fmt.Errorf("refine persona: %w", err)
	}
	return decodePersona(content, p.ID)
}

// decodePersona validates model output through the same boundary as user payloads.
// Invalid model output is a model error, not a caller schema error.
func decodePersona(content, id string) (persona.Persona, error) {
	var raw json.RawMessage
	if err := ai.DecodeJSONObject(content, &raw); err != nil {
		return persona.Persona{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return persona.Persona{}, fmt.Errorf("%w: persona json: %w", ai.ErrModelError, err)
	}
	for key := range fields {
		if !personaFields[key] {
			delete(fields, key)
		}
	}
	if id != "" {
		fields["id"] = id
	}

	p, err := persona.FromPayload(fields)
	if err != nil {
		return persona.Persona{}, fmt.Errorf("%w: invalid persona from model: %v", ai.ErrModelError, err)
	}
	return p, nil
}

var personaFields = map[string]bool{
	"name":          true,
	"role":          true,
	"traits":        true,
	"mood":          true,
	"speakingStyle": true,
	"hiddenAgenda":  true,
	"background":    true,
	"openingLine":   true,
}

func personaJSON(p persona.Persona) string {
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// cleanUtterance strips quoting and a leading speaker label the model sometimes adds.
func cleanUtterance(content, name string) string {
	out := strings.TrimSpace(content)
	for _, prefix := range []string{"Guest:", name + ":"} {
		if prefix == ":" {
			continue
		}
		if len(out) >= len(prefix) && strings.EqualFold(out[:len(prefix)], prefix) {
			out = strings.TrimSpace(out[len(prefix):])
		}
	}
	if len(out) >= 2 && out[0] == '"' && out[len(out)-1] == '"' {
		out = strings.TrimSpace(out[1 : len(out)-1])
	}
	return out
}
