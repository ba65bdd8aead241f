package guest

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
)

// difficultyRules tell the guest how hard to push back at each difficulty.
var difficultyRules = map[scenario.Difficulty][]string{
	scenario.Easy: {
		"Accept a reasonable offer quickly",
		"Stay polite even when the answer is not what you hoped for",
	},
	scenario.Medium: {
		"Push back once before accepting an offer",
		"Ask at least one clarifying question about any policy the staff member cites",
	},
	scenario.Hard: {
		"Reject the first offer unless it fully solves your problem",
		"Escalate your tone if the staff member is vague or does not apologise",
		"Only calm down when you feel genuinely heard",
	},
}

var roleplayRules = []string{
	"Stay in character as the guest; never mention that you are an AI or that this is training",
	"Reply with what the guest says out loud, one to three sentences, no stage directions",
	"React to what the staff member actually said in their last message",
	"Do not solve the problem for the staff member",
	"If you are satisfied or decide to leave, say so plainly",
}

// BuildSystemPrompt renders the roleplay system prompt for a persona in a scenario.
func BuildSystemPrompt(sc scenario.Scenario, p persona.Persona) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, %s. You are a hotel guest talking to a front desk staff member who is in training.\n\n", p.Name, p.Role)

	b.WriteString("Situation:\n")
	b.WriteString(sc.Situation)
	b.WriteString("\n\nWho you are:\n")
	fmt.Fprintf(&b, "- Mood: %s\n", p.Mood)
	fmt.Fprintf(&b, "- Speaking style: %s\n", p.SpeakingStyle)
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "- Traits: %s\n", strings.Join(p.Traits, ", "))
	}
	if p.Background != "" {
		fmt.Fprintf(&b, "- Background: %s\n", p.Background)
	}
	if p.HiddenAgenda != "" {
		fmt.Fprintf(&b, "- What you really want (never state this directly): %s\n", p.HiddenAgenda)
	}

	rules := append([]string(nil), roleplayRules...)
	rules = append(rules, difficultyRules[sc.Difficulty]...)
	b.WriteString("\nRules:\n- ")
	b.WriteString(strings.Join(rules, "\n- "))

	return b.String()
}

// openingQuery asks for the first guest line when the conversation is empty.
func openingQuery(p persona.Persona) string {
	if p.OpeningLine != "" {
		return fmt.Sprintf("Open the conversation in character. A line like this fits: %q", p.OpeningLine)
	}
	return "Open the conversation in character by telling the staff member why you came to the desk."
}

const personaSystemPrompt = `You design realistic hotel guests for customer-service roleplay training.
Return only one JSON object with these fields:
name (string), role (string), traits (array of strings), mood (string), speakingStyle (string),
hiddenAgenda (string, may be empty), background (string), openingLine (string).
No extra text.`

func personaQuery(sc scenario.Scenario, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\nSituation: %s\n", sc.Title, sc.Situation)
	fmt.Fprintf(&b, "The trainee must: %s\n", strings.Join(sc.Objectives, "; "))
	fmt.Fprintf(&b, "Difficulty: %s\n", sc.Difficulty)
	if hint = strings.TrimSpace(hint); hint != "" {
		fmt.Fprintf(&b, "Designer notes: %s\n", hint)
	}
	b.WriteString("Create the guest as JSON.")
	return b.String()
}

func refineQuery(sc scenario.Scenario, p persona.Persona, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\nSituation: %s\n", sc.Title, sc.Situation)
	b.WriteString("Current guest JSON:\n")
	b.WriteString(personaJSON(p))
	fmt.Fprintf(&b, "\nRevise the guest according to these instructions: %s\n", strings.TrimSpace(instructions))
	b.WriteString("Return the complete revised guest as JSON.")
	return b.String()
}
