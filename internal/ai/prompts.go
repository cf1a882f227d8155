package ai

import (
	"fmt"
	"strings"

	"paperai/api/internal/llm"
)

// Context is the request-scoped editing context callers pass to shape the
// prompt and provider parameters. It is never persisted.
type Context struct {
	DocumentType   string      `json:"documentType,omitempty"`
	CurrentSection string      `json:"currentSection,omitempty"`
	SelectedText   string      `json:"selectedText,omitempty"`
	Model          ModelConfig `json:"modelConfig,omitempty"`
}

// ModelConfig overrides the configured provider parameters for one request.
// Zero values mean "use the configured default".
type ModelConfig struct {
	Name        string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// contextNotes renders the optional editing context as extra prompt lines.
func contextNotes(rctx Context) string {
	var notes []string
	if rctx.DocumentType != "" {
		notes = append(notes, "Document type: "+rctx.DocumentType+".")
	}
	if rctx.CurrentSection != "" {
		notes = append(notes, "The text belongs to the section: "+rctx.CurrentSection+".")
	}
	if rctx.SelectedText != "" {
		notes = append(notes, "The user has selected this passage: "+rctx.SelectedText)
	}
	if len(notes) == 0 {
		return ""
	}
	return "\n" + strings.Join(notes, "\n")
}

func messages(system, user string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func grammarMessages(text string, rctx Context) []llm.Message {
	system := `You are a meticulous copy editor. Fix grammar, spelling and punctuation without changing the author's meaning or voice. Respond with a JSON object: {"improvedText": string, "corrections": [{"original": string, "correction": string, "explanation": string}], "readabilityScore": number (0-100), "readabilityLevel": string}.` + contextNotes(rctx)
	return messages(system, text)
}

func styleMessages(text string, rctx Context) []llm.Message {
	system := `You are a writing coach. Improve clarity, flow and word choice while keeping the author's intent. Respond with a JSON object: {"improvedText": string, "tone": string, "suggestions": [{"original": string, "suggestion": string, "explanation": string}]}.` + contextNotes(rctx)
	return messages(system, text)
}

func summaryMessages(text string, rctx Context) []llm.Message {
	system := `You summarize documents faithfully and concisely. Respond with a JSON object: {"summary": string, "keyPoints": [string]}.` + contextNotes(rctx)
	return messages(system, text)
}

func expandMessages(text string, rctx Context) []llm.Message {
	system := `You elaborate on draft text, adding supporting detail in the same voice. Respond with a JSON object: {"expandedText": string}.` + contextNotes(rctx)
	return messages(system, text)
}

func templateMessages(documentType string, rctx Context) []llm.Message {
	system := `You design document templates. Respond with a JSON object: {"template": {"name": string, "sections": [{"title": string, "placeholder": string}]}}.` + contextNotes(rctx)
	user := fmt.Sprintf("Create a template for a %q document.", documentType)
	return messages(system, user)
}

func suggestionsMessages(text string, rctx Context) []llm.Message {
	system := `You offer contextual writing suggestions: what to cover next, gaps to fill, phrasing alternatives. Respond with a JSON object: {"suggestions": [string]}.` + contextNotes(rctx)
	return messages(system, text)
}
