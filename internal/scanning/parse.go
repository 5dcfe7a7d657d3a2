package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseLinesJSON extracts the JSON object an LLM engine answered with. Models
// wrap their answer in markdown fences or prose often enough that the object
// is located by its outer braces.
func parseLinesJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return payload, nil
}
