package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

// History converts the newest window turns into chat messages.
// The model plays the guest, so guest turns are assistant messages.
func History(turns []session.Turn, window int) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if window > 0 && len(turns) > window {
		startIdx = len(turns) - window
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Speaker {
		case session.Trainee:
			history = append(history, schema.UserMessage(turn.Content))
		case session.Guest:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

// Transcript renders the newest window turns as plain "Speaker: text" lines.
func Transcript(turns []session.Turn, window int) string {
	if len(turns) == 0 {
		return "(no conversation yet)"
	}
	start := 0
	if window > 0 && len(turns) > window {
		start = len(turns) - window
	}

	var builder strings.Builder
	for i := start; i < len(turns); i++ {
		turn := turns[i]
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		if turn.Speaker == session.Guest {
			builder.WriteString("Guest: ")
		} else {
			builder.WriteString("Trainee: ")
		}
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "(no conversation yet)"
	}
	return builder.String()
}

// DecodeJSONObject extracts the outermost JSON object from a completion and decodes it.
// Models often wrap JSON in prose or code fences.
func DecodeJSONObject(content string, dst any) error {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("%w: completion has no json object", ErrModelError)
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), dst); err != nil {
		return fmt.Errorf("%w: decode json completion: %w", ErrModelError, err)
	}
	return nil
}
