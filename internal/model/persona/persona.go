package persona

import (
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
)

// Persona captures the guest the model plays for the whole session.
type Persona struct {
	ID            string   `json:"id"`
	Name          string   `json:"name" validate:"required"`
	Role          string   `json:"role" validate:"required"`
	Traits        []string `json:"traits,omitempty" validate:"dive,required"`
	Mood          string   `json:"mood" validate:"required"`
	SpeakingStyle string   `json:"speakingStyle" validate:"required"`
	HiddenAgenda  string   `json:"hiddenAgenda,omitempty"`
	Background    string   `json:"background,omitempty"`
	OpeningLine   string   `json:"openingLine,omitempty"`
}

// FromPayload validates a loosely typed persona payload.
func FromPayload(raw any) (Persona, error) {
	var p Persona
	if err := validate.Decode("persona", raw, &p); err != nil {
		return Persona{}, err
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return p, nil
}

// Validate re-checks an already typed persona.
func (p Persona) Validate() error {
	return validate.Struct("persona", &p)
}

// Clone returns a deep copy.
func (p Persona) Clone() Persona {
	out := p
	if p.Traits != nil {
		out.Traits = append([]string(nil), p.Traits...)
	}
	return out
}

func (p *Persona) normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Role = strings.TrimSpace(p.Role)
	p.Mood = strings.TrimSpace(p.Mood)
	p.SpeakingStyle = strings.TrimSpace(p.SpeakingStyle)
	p.HiddenAgenda = strings.TrimSpace(p.HiddenAgenda)
	p.Background = strings.TrimSpace(p.Background)
	p.OpeningLine = strings.TrimSpace(p.OpeningLine)
	for i, trait := range p.Traits {
		p.Traits[i] = strings.TrimSpace(trait)
	}
}

// Seed provides the built-in guest personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:            "tired-traveller",
			Name:          "Dana Whitfield",
			Role:          "Business traveller arriving late",
			Traits:        []string{"impatient", "precise", "loyalty-program member"},
			Mood:          "exhausted and irritated",
			SpeakingStyle: "short sentences, cites her booking number, escalates when ignored",
			HiddenAgenda:  "Has an 8am client meeting and mostly needs a quiet bed close by",
			Background:    "Platinum member who has stayed at the chain for ten years.",
			OpeningLine:   "I have a confirmed reservation, confirmation 88214. Please tell me my room is ready.",
		},
		{
			ID:            "skeptical-retiree",
			Name:          "Harold Benes",
			Role:          "Retired accountant checking out",
			Traits:        []string{"meticulous", "polite but firm", "distrustful of fees"},
			Mood:          "suspicious",
			SpeakingStyle: "formal, asks for itemised explanations, repeats figures back",
			Background:    "Travels twice a year to visit grandchildren and keeps every receipt.",
			OpeningLine:   "Before I sign anything, there is a charge on this bill I did not make.",
		},
		{
			ID:            "friendly-regular",
			Name:          "Priya Natarajan",
			Role:          "Consultant on a week-long stay",
			Traits:        []string{"warm", "chatty", "flexible"},
			Mood:          "cheerful but in a hurry",
			SpeakingStyle: "casual, friendly, uses first names",
			HiddenAgenda:  "Would happily accept lounge access instead of a late checkout",
			OpeningLine:   "Morning! Any chance I could keep the room until four today?",
		},
	}
}
