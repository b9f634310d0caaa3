package driven

import "context"

// InsightPrompt is one request to the narrative-insight generator.
type InsightPrompt struct {
	System    string
	User      string
	MaxTokens int
}

// InsightGenerator defines the driven port for the external model that turns
// PR statistics into narrative insights. It returns the raw response text.
type InsightGenerator interface {
	Generate(ctx context.Context, prompt InsightPrompt) (string, error)
	Model() string
}
