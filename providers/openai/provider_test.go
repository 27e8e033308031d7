package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/sse"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

const completion = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini-2024-07-18",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "length"}]
}`

func newProvider(t *testing.T, handler http.HandlerFunc, cfg aiwarp.ProviderConfig) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/v1"
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestComplete_RequestShape(t *testing.T) {
	t.Parallel()
	var body []byte
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, completion)
	}, aiwarp.ProviderConfig{Name: "deepseek", APIKey: "sk-test", ExtraBody: map[string]any{"seed": 7}})

	maxTokens := 64
	temp := 0.2
	resp, err := p.Complete(context.Background(), "deepseek-chat", "and now?", aiwarp.RequestOptions{
		Context:     "be brief",
		History:     []aiwarp.HistoryEntry{{Prompt: "hi", Response: "hello"}},
		MaxTokens:   &maxTokens,
		Temperature: &temp,
		SessionID:   "sess-1",
		Tools: json.RawMessage(`[
			{"type":"function","function":{"name":"get_weather"}},
			{"type":"function","function":{"name":"delete_all"}}
		]`),
		AllowedTools: []string{"get_weather"},
		ToolChoice:   json.RawMessage(`"auto"`),
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Text)
	assert.Equal(t, aiwarp.ResultIncompleteMaxTokens, resp.Result)
	assert.Equal(t, "deepseek", resp.Provider)

	assert.JSONEq(t, `[
		{"role":"system","content":"be brief"},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"hello"},
		{"role":"user","content":"and now?"}
	]`, gjson.GetBytes(body, "messages").Raw)
	assert.Equal(t, "deepseek-chat", gjson.GetBytes(body, "model").String())
	assert.EqualValues(t, 64, gjson.GetBytes(body, "max_tokens").Int())
	assert.InDelta(t, 0.2, gjson.GetBytes(body, "temperature").Float(), 1e-9)
	assert.Equal(t, "sess-1", gjson.GetBytes(body, "user").String())
	assert.False(t, gjson.GetBytes(body, "stream").Bool())
	assert.EqualValues(t, 7, gjson.GetBytes(body, "seed").Int())
	assert.Equal(t, "auto", gjson.GetBytes(body, "tool_choice").String())
	assert.EqualValues(t, 1, gjson.GetBytes(body, "tools.#").Int())
	assert.Equal(t, "get_weather", gjson.GetBytes(body, "tools.0.function.name").String())
	assert.False(t, gjson.GetBytes(body, "response_format").Exists())
}

func TestComplete_GeneratesSessionID(t *testing.T) {
	t.Parallel()
	var user string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		user = gjson.GetBytes(raw, "user").String()
		_, _ = io.WriteString(w, completion)
	}, aiwarp.ProviderConfig{Name: "openai"})

	_, err := p.Complete(context.Background(), "gpt-4o-mini", "x", aiwarp.RequestOptions{})
	require.NoError(t, err)
	assert.Len(t, user, 36)
}

func TestComplete_NoContent(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"no choices":    `{"id":"x","choices":[]}`,
		"empty content": `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}]}`,
		"not json":      `<html>`,
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, reply)
			}, aiwarp.ProviderConfig{Name: "openai"})

			_, err := p.Complete(context.Background(), "gpt-4o-mini", "x", aiwarp.RequestOptions{})
			var noContent *aiwarp.NoContentError
			require.ErrorAs(t, err, &noContent)
			assert.Equal(t, reply, noContent.Body)
			assert.Equal(t, http.StatusOK, noContent.StatusCode)
			assert.Equal(t, "provider openai returned no content: status 200: "+reply, err.Error())
		})
	}
}

func TestComplete_StatusErrors(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate limited"}`)
	}, aiwarp.ProviderConfig{Name: "groq"})

	_, err := p.Complete(context.Background(), "llama", "x", aiwarp.RequestOptions{})
	assert.True(t, aiwarp.IsRateLimited(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestComplete_PerRequestKeyAndHeaders(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-caller", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace"))
		_, _ = io.WriteString(w, completion)
	}, aiwarp.ProviderConfig{Name: "openai", APIKey: "sk-default"})

	_, err := p.Complete(context.Background(), "gpt-4o-mini", "x", aiwarp.RequestOptions{
		APIKey:  "sk-caller",
		Headers: http.Header{"X-Trace": {"trace-1"}},
	})
	require.NoError(t, err)
}

func TestStream_CanonicalFrames(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(raw, "stream").Bool())
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, strings.Join([]string{
			`data: {"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
			`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		}, "\n\n")+"\n\n")
	}, aiwarp.ProviderConfig{Name: "openai"})

	rc, err := p.Stream(context.Background(), "gpt-4o-mini", "x", aiwarp.RequestOptions{})
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)

	records := sse.Parse(raw)
	require.Len(t, records, 2)
	assert.Equal(t, string(aiwarp.EventContent), records[0].Event)
	assert.JSONEq(t, `{"response":"Hi"}`, records[0].Data)
	assert.Equal(t, string(aiwarp.EventEnd), records[1].Event)
	assert.JSONEq(t, `{"response":"COMPLETE"}`, records[1].Data)
}

func TestStream_OpenFailureIsTyped(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, aiwarp.ProviderConfig{Name: "openai"})

	_, err := p.Stream(context.Background(), "gpt-4o-mini", "x", aiwarp.RequestOptions{})
	var respErr *aiwarp.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusBadGateway, respErr.StatusCode)
}

func TestNew_UnknownNameNeedsBaseURL(t *testing.T) {
	t.Parallel()
	_, err := New(aiwarp.ProviderConfig{Name: "my-vllm"})
	var optErr *aiwarp.OptionError
	require.ErrorAs(t, err, &optErr)
}
