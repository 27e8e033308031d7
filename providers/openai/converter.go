package openai

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
)

// MapFinishReason maps OpenAI chat finish reasons
var MapFinishReason = aiwarp.NewFinishReasonMapper(
	[]string{string(openai.ChatCompletionChoicesFinishReasonStop)},
	[]string{string(openai.ChatCompletionChoicesFinishReasonLength)},
)

// Message is one chat message in the OpenAI wire format
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI chat completions request body
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	User           string          `json:"user,omitempty"`
	Stream         bool            `json:"stream"`
}

// ConvertMessages flattens the system prompt, history and new prompt into
// chat messages
func ConvertMessages(prompt string, opts aiwarp.RequestOptions) []Message {
	msgs := make([]Message, 0, 2+2*len(opts.History))
	if opts.Context != "" {
		msgs = append(msgs, Message{Role: "system", Content: opts.Context})
	}
	for _, h := range opts.History {
		msgs = append(msgs,
			Message{Role: "user", Content: h.Prompt},
			Message{Role: "assistant", Content: h.Response},
		)
	}
	return append(msgs, Message{Role: "user", Content: prompt})
}

// FilterTools keeps the entries of an OpenAI tools array whose function name
// is in allowed. With no allowed names the tools pass through untouched.
func FilterTools(tools json.RawMessage, allowed []string) json.RawMessage {
	if len(tools) == 0 || len(allowed) == 0 {
		return tools
	}
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	kept := make([]json.RawMessage, 0, len(allowed))
	for _, tool := range gjson.ParseBytes(tools).Array() {
		if keep[tool.Get("function.name").String()] {
			kept = append(kept, json.RawMessage(tool.Raw))
		}
	}
	out, err := json.Marshal(kept)
	if err != nil {
		return tools
	}
	return out
}

// SessionID returns the caller's session id or a fresh one
func SessionID(opts aiwarp.RequestOptions) string {
	if opts.SessionID != "" {
		return opts.SessionID
	}
	return uuid.NewString()
}

// BuildChatBody renders the request body, then merges extra body fields
func BuildChatBody(model, prompt string, opts aiwarp.RequestOptions, stream bool, extra map[string]any) ([]byte, error) {
	req := ChatRequest{
		Model:          model,
		Messages:       ConvertMessages(prompt, opts),
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		Tools:          FilterTools(opts.Tools, opts.AllowedTools),
		ToolChoice:     opts.ToolChoice,
		ResponseFormat: opts.ResponseFormat,
		User:           SessionID(opts),
		Stream:         stream,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return MergeExtraBody(body, extra)
}

// MergeExtraBody sets each key of extra (an sjson path) on body
func MergeExtraBody(body []byte, extra map[string]any) ([]byte, error) {
	var err error
	for path, value := range extra {
		body, err = sjson.SetBytes(body, path, value)
		if err != nil {
			return nil, fmt.Errorf("set extra body field %q: %w", path, err)
		}
	}
	return body, nil
}

// ConvertResponse maps a chat completion received with status onto the
// canonical response. A response without text is a NoContentError.
func ConvertResponse(provider string, status int, raw []byte) (*aiwarp.Response, error) {
	noContent := &aiwarp.NoContentError{ProviderError: aiwarp.ProviderError{Provider: provider, StatusCode: status, Body: string(raw)}}

	var resp openai.ChatCompletion
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, noContent
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, noContent
	}

	choice := resp.Choices[0]
	return &aiwarp.Response{
		Text:     choice.Message.Content,
		Result:   MapFinishReason(string(choice.FinishReason)),
		Provider: provider,
		Model:    resp.Model,
	}, nil
}
