package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is the classified purpose of a user request. Degraded is set when
// the result came from the keyword fallback instead of the provider; callers
// may log it but the contract is otherwise identical.
type Intent struct {
	Primary    string   `json:"primary"`
	Secondary  string   `json:"secondary,omitempty"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
	Degraded   bool     `json:"-"`
}

var intentLabels = map[string]bool{
	"general_answer":     true,
	"task_creation":      true,
	"task_management":    true,
	"agent_assignment":   true,
	"project_management": true,
	"agent_use":          true,
	"other":              true,
	"error":              true,
}

// ContextCounts ground the classifier prompt without shipping project data.
type ContextCounts struct {
	Tasks   int
	Columns int
	Agents  int
}

type Classifier struct {
	Provider    *Provider
	MaxTokens   int
	Temperature float64
}

// Classify issues one low-temperature provider call asking for strict JSON.
// Any provider failure, malformed payload or unknown label falls back to the
// keyword matcher; this method never returns an error.
func (c *Classifier) Classify(ctx context.Context, input string, counts ContextCounts) Intent {
	if c.Provider == nil {
		return classifyByKeywords(input)
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	system := fmt.Sprintf(`You classify project-management requests. The project has %d tasks, %d columns and %d agents.
Respond with strict JSON only: {"primary": <label>, "secondary": <label or null>, "confidence": <0..1>, "entities": [<strings>]}.
Labels: general_answer, task_creation, task_management, agent_assignment, project_management, agent_use, other.`,
		counts.Tasks, counts.Columns, counts.Agents)

	res, err := c.Provider.Chat(ctx, ChatRequest{
		System:      system,
		Input:       input,
		MaxTokens:   maxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return classifyByKeywords(input)
	}
	var out Intent
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &out); err != nil {
		return classifyByKeywords(input)
	}
	if !intentLabels[out.Primary] {
		return classifyByKeywords(input)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		out.Confidence = 0.5
	}
	return out
}

// extractJSON carves the first top-level JSON object out of text, tolerating
// models that wrap the payload in prose or fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

// keywordRules are checked in order; the first phrase contained in the input
// wins. More specific phrases come before generic ones.
var keywordRules = []struct {
	phrase string
	intent string
}{
	{"create task", "task_creation"},
	{"add task", "task_creation"},
	{"new task", "task_creation"},
	{"update task", "task_management"},
	{"delete task", "task_management"},
	{"move", "task_management"},
	{"mark", "task_management"},
	{"assign", "agent_assignment"},
	{"run", "agent_use"},
	{"execute", "agent_use"},
	{"analyze", "agent_use"},
	{"project", "project_management"},
	{"column", "project_management"},
}

func classifyByKeywords(input string) Intent {
	lower := strings.ToLower(input)
	for _, rule := range keywordRules {
		if strings.Contains(lower, rule.phrase) {
			return Intent{Primary: rule.intent, Confidence: 0.6, Degraded: true}
		}
	}
	return Intent{Primary: "general_answer", Confidence: 0.3, Degraded: true}
}
