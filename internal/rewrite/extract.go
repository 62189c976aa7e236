package rewrite

import (
	"regexp"
	"strings"
)

var modelTurn = regexp.MustCompile(`(?s)<start_of_turn>model(.*?)(?:<end_of_turn>|$)`)

// ExtractModelResponse strips an echoed chat template from generated text,
// keeping only the model turn. Text without turn markers is returned trimmed.
func ExtractModelResponse(text string) string {
	if m := modelTurn.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
