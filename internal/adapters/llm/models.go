package llm

import (
	"fmt"
	"sort"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// modelTable maps the short ids the client speaks to the gateway's actual
// model names. All of them sit behind the same OpenAI-compatible endpoint.
var modelTable = map[domain.ModelID]string{
	"deepseek": "deepseek-chat",
	"zhipu":    "glm-4",
	"gpt4o":    "gpt-4o",
	"claude":   "claude-sonnet-4-5-20250929",
	"qwen":     "qwen3-max",
	"doubao":   "doubao-seed-1-6-251015-search",
	"grok":     "xl-grok-4",
}

// KnownModels returns the selectable short ids, sorted.
func KnownModels() []string {
	ids := make([]string, 0, len(modelTable))
	for id := range modelTable {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids
}

func resolve(id domain.ModelID) (string, error) {
	name, ok := modelTable[id]
	if !ok {
		return "", fmt.Errorf("unknown model id %q", id)
	}
	return name, nil
}
