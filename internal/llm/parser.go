package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// threadClassificationWire is the JSON shape the prompt asks the model for.
type threadClassificationWire struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Risk     string `json:"risk"`
	Summary  string `json:"summary"`
}

// parseThreadClassifications extracts classification objects from a model
// reply that should contain one JSON array. Invalid entries are skipped so
// one hallucinated row does not discard a whole batch.
func parseThreadClassifications(content string) ([]ThreadClassification, error) {
	content = cleanMarkdownWrapper(content)

	// Models sometimes wrap the array in prose despite instructions; parse
	// from the first bracket to the last.
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var wire []threadClassificationWire
	if err := json.Unmarshal([]byte(content[start:end+1]), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	results := make([]ThreadClassification, 0, len(wire))
	for _, w := range wire {
		tc, ok := normalizeClassification(w)
		if !ok {
			continue
		}
		results = append(results, tc)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("no valid classifications found in response")
	}

	return results, nil
}

// normalizeClassification validates one wire entry against the model types.
func normalizeClassification(w threadClassificationWire) (ThreadClassification, bool) {
	id := strings.TrimSpace(w.ID)
	if id == "" {
		return ThreadClassification{}, false
	}

	category := model.Category(strings.ToLower(strings.TrimSpace(w.Category)))
	if category != model.CategoryFocus && category != model.CategoryWaiting {
		return ThreadClassification{}, false
	}

	risk := model.RiskLevel(strings.ToLower(strings.TrimSpace(w.Risk)))
	if risk == "" {
		risk = model.RiskNone
	}
	if !risk.IsValid() {
		return ThreadClassification{}, false
	}

	summary := strings.Join(strings.Fields(w.Summary), " ")
	const maxSummaryLen = 300
	if runes := []rune(summary); len(runes) > maxSummaryLen {
		summary = string(runes[:maxSummaryLen])
	}

	return ThreadClassification{
		ThreadID: id,
		Category: category,
		Risk:     risk,
		Summary:  summary,
	}, true
}

// cleanMarkdownWrapper strips a ```json fenced block if the model wrapped
// its reply in one.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}
