package assistant

import (
	"fmt"
	"strings"

	"travelbot/internal/models"
)

// Preamble opens every transcript sent to the model.
const Preamble = "You are a helpful assistant. You do not respond as 'User' or pretend to be 'User'. You only respond once as 'Assistant'.\n\n"

// BuildTranscript flattens history into the single prompt string the model
// completes, ending with the new utterance and an open assistant turn.
// History is never truncated.
func BuildTranscript(history []*models.Message, utterance string) string {
	var sb strings.Builder
	sb.WriteString(Preamble)
	for _, m := range history {
		if m == nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			sb.WriteString("User: " + m.Content + "\n\n")
		case models.RoleAssistant:
			sb.WriteString("Assistant: " + m.Content + "\n\n")
		}
	}
	return fmt.Sprintf("%s %s\nAssistant: ", sb.String(), utterance)
}
