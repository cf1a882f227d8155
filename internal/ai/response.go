package ai

import "encoding/json"

// StructuredResponse is the uniform result shape every operation converges
// to, whatever the provider's per-operation JSON contract looked like.
// ImprovedText is never empty: when the model omits it, the original input
// text is used so downstream consumers always have renderable text.
type StructuredResponse struct {
	ImprovedText string    `json:"improvedText"`
	Analysis     *Analysis `json:"analysis,omitempty"`
	Template     *Template `json:"template,omitempty"`
}

type Analysis struct {
	Tone         string        `json:"tone,omitempty"`
	Readability  *Readability  `json:"readability,omitempty"`
	Improvements []Improvement `json:"improvements,omitempty"`
	KeyPoints    []string      `json:"keyPoints,omitempty"`
	Suggestions  []string      `json:"suggestions,omitempty"`
}

type Readability struct {
	Score float64 `json:"score"`
	Level string  `json:"level,omitempty"`
}

type Improvement struct {
	Type        string `json:"type"`
	Original    string `json:"original,omitempty"`
	Suggestion  string `json:"suggestion"`
	Explanation string `json:"explanation,omitempty"`
}

type Template struct {
	Name     string            `json:"name"`
	Sections []TemplateSection `json:"sections"`
}

type TemplateSection struct {
	Title       string `json:"title"`
	Placeholder string `json:"placeholder,omitempty"`
}

// Per-operation provider contracts. The model is prompted to answer with
// one of these JSON shapes; each has an explicit mapping into
// StructuredResponse. Malformed or partial JSON degrades to defaults
// instead of failing - a usable response beats a hard error here.

type grammarPayload struct {
	ImprovedText string `json:"improvedText"`
	Corrections  []struct {
		Original    string `json:"original"`
		Correction  string `json:"correction"`
		Explanation string `json:"explanation"`
	} `json:"corrections"`
	ReadabilityScore float64 `json:"readabilityScore"`
	ReadabilityLevel string  `json:"readabilityLevel"`
}

func mapGrammar(content, input string) *StructuredResponse {
	var payload grammarPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &StructuredResponse{ImprovedText: input}
	}

	resp := &StructuredResponse{ImprovedText: payload.ImprovedText, Analysis: &Analysis{}}
	if resp.ImprovedText == "" {
		resp.ImprovedText = input
	}
	if payload.ReadabilityScore > 0 || payload.ReadabilityLevel != "" {
		resp.Analysis.Readability = &Readability{
			Score: payload.ReadabilityScore,
			Level: payload.ReadabilityLevel,
		}
	}
	for _, c := range payload.Corrections {
		resp.Analysis.Improvements = append(resp.Analysis.Improvements, Improvement{
			Type:        "grammar",
			Original:    c.Original,
			Suggestion:  c.Correction,
			Explanation: c.Explanation,
		})
	}
	return resp
}

type stylePayload struct {
	ImprovedText string `json:"improvedText"`
	Tone         string `json:"tone"`
	Suggestions  []struct {
		Original    string `json:"original"`
		Suggestion  string `json:"suggestion"`
		Explanation string `json:"explanation"`
	} `json:"suggestions"`
}

func mapStyle(content, input string) *StructuredResponse {
	var payload stylePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &StructuredResponse{ImprovedText: input}
	}

	resp := &StructuredResponse{ImprovedText: payload.ImprovedText, Analysis: &Analysis{Tone: payload.Tone}}
	if resp.ImprovedText == "" {
		resp.ImprovedText = input
	}
	for _, s := range payload.Suggestions {
		resp.Analysis.Improvements = append(resp.Analysis.Improvements, Improvement{
			Type:        "style",
			Original:    s.Original,
			Suggestion:  s.Suggestion,
			Explanation: s.Explanation,
		})
	}
	return resp
}

type summaryPayload struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
}

func mapSummary(content, input string) *StructuredResponse {
	var payload summaryPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &StructuredResponse{ImprovedText: input}
	}

	resp := &StructuredResponse{ImprovedText: payload.Summary}
	if resp.ImprovedText == "" {
		resp.ImprovedText = input
	}
	if len(payload.KeyPoints) > 0 {
		resp.Analysis = &Analysis{KeyPoints: payload.KeyPoints}
	}
	return resp
}

type expandPayload struct {
	ExpandedText string `json:"expandedText"`
}

func mapExpand(content, input string) *StructuredResponse {
	var payload expandPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &StructuredResponse{ImprovedText: input}
	}

	resp := &StructuredResponse{ImprovedText: payload.ExpandedText}
	if resp.ImprovedText == "" {
		resp.ImprovedText = input
	}
	return resp
}

type templatePayload struct {
	Template Template `json:"template"`
}

func mapTemplate(content, input string) *StructuredResponse {
	var payload templatePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &StructuredResponse{ImprovedText: input}
	}

	resp := &StructuredResponse{ImprovedText: content}
	if payload.Template.Name != "" || len(payload.Template.Sections) > 0 {
		resp.Template = &payload.Template
	}
	return resp
}

type suggestionsPayload struct {
	Suggestions []string `json:"suggestions"`
}

func mapSuggestions(content, input string) *StructuredResponse {
	var payload suggestionsPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return &StructuredResponse{ImprovedText: input}
	}

	resp := &StructuredResponse{ImprovedText: input}
	if len(payload.Suggestions) > 0 {
		resp.Analysis = &Analysis{Suggestions: payload.Suggestions}
	}
	return resp
}
