package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/providers/openai"
)

// MapFinishReason maps Gemini finish reasons
var MapFinishReason = aiwarp.NewFinishReasonMapper([]string{"STOP"}, []string{"MAX_TOKENS"})

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxOutputTokens  *int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

func (g generationConfig) empty() bool {
	return g.Temperature == nil && g.MaxOutputTokens == nil && g.ResponseMimeType == "" && len(g.ResponseSchema) == 0
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             json.RawMessage   `json:"tools,omitempty"`
	ToolConfig        json.RawMessage   `json:"toolConfig,omitempty"`
}

// convertContents turns history and the new prompt into alternating
// user/model turns
func convertContents(prompt string, history []aiwarp.HistoryEntry) []content {
	contents := make([]content, 0, 1+2*len(history))
	for _, h := range history {
		contents = append(contents,
			content{Role: "user", Parts: []part{{Text: h.Prompt}}},
			content{Role: "model", Parts: []part{{Text: h.Response}}},
		)
	}
	return append(contents, content{Role: "user", Parts: []part{{Text: prompt}}})
}

// convertResponseFormat maps an OpenAI-style response_format onto
// responseMimeType and responseSchema
func convertResponseFormat(format json.RawMessage, cfg *generationConfig) {
	if len(format) == 0 {
		return
	}
	switch gjson.GetBytes(format, "type").String() {
	case "json_object":
		cfg.ResponseMimeType = "application/json"
	case "json_schema":
		cfg.ResponseMimeType = "application/json"
		if schema := gjson.GetBytes(format, "json_schema.schema"); schema.Exists() {
			cfg.ResponseSchema = json.RawMessage(schema.Raw)
		}
	}
}

// filterTools keeps only allowed entries of every functionDeclarations list
func filterTools(tools json.RawMessage, allowed []string) json.RawMessage {
	if len(tools) == 0 || len(allowed) == 0 {
		return tools
	}
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}

	var out []map[string]any
	for _, tool := range gjson.ParseBytes(tools).Array() {
		entry := make(map[string]any)
		tool.ForEach(func(key, value gjson.Result) bool {
			if key.String() != "functionDeclarations" {
				entry[key.String()] = json.RawMessage(value.Raw)
				return true
			}
			var decls []json.RawMessage
			for _, decl := range value.Array() {
				if keep[decl.Get("name").String()] {
					decls = append(decls, json.RawMessage(decl.Raw))
				}
			}
			if len(decls) > 0 {
				entry[key.String()] = decls
			}
			return true
		})
		if len(entry) > 0 {
			out = append(out, entry)
		}
	}
	filtered, err := json.Marshal(out)
	if err != nil {
		return tools
	}
	return filtered
}

func buildBody(prompt string, opts aiwarp.RequestOptions, extra map[string]any) ([]byte, error) {
	req := generateRequest{
		Contents:   convertContents(prompt, opts.History),
		Tools:      filterTools(opts.Tools, opts.AllowedTools),
		ToolConfig: opts.ToolChoice,
	}
	if opts.Context != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: opts.Context}}}
	}

	cfg := generationConfig{
		Temperature:     opts.Temperature,
		MaxOutputTokens: opts.MaxTokens,
	}
	convertResponseFormat(opts.ResponseFormat, &cfg)
	if !cfg.empty() {
		req.GenerationConfig = &cfg
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}
	return openai.MergeExtraBody(body, extra)
}

// convertResponse joins the text parts of the first candidate. A blocked
// prompt or a candidate without text is a NoContentError.
func convertResponse(provider, model string, status int, raw []byte) (*aiwarp.Response, error) {
	noContent := &aiwarp.NoContentError{ProviderError: aiwarp.ProviderError{Provider: provider, Model: model, StatusCode: status, Body: string(raw)}}
	if !gjson.ValidBytes(raw) {
		return nil, noContent
	}

	var text strings.Builder
	for _, p := range gjson.GetBytes(raw, "candidates.0.content.parts").Array() {
		text.WriteString(p.Get("text").String())
	}
	if text.Len() == 0 {
		return nil, noContent
	}

	return &aiwarp.Response{
		Text:     text.String(),
		Result:   MapFinishReason(gjson.GetBytes(raw, "candidates.0.finishReason").String()),
		Provider: provider,
		Model:    model,
	}, nil
}
