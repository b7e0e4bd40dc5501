package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/pocket-ledger/internal/reconcile"
)

// parsePayload extracts the JSON object from a model response and
// decodes it without imposing any shape. Models routinely wrap their
// answer in markdown fences or prose, so the text is trimmed down to
// the outermost object first.
func parsePayload(text string) (reconcile.RawPayload, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("%w: no JSON object in response", reconcile.ErrInvalidFormat)
	}
	text = text[startIdx : endIdx+1]

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrInvalidFormat, err)
	}
	return raw, nil
}
