package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
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

const generated = `{
	"candidates": [{
		"content": {"role": "model", "parts": [{"text": "Bonjour"}, {"text": " le monde"}]},
		"finishReason": "STOP"
	}]
}`

func newProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(aiwarp.ProviderConfig{BaseURL: srv.URL + "/v1beta", APIKey: "g-key"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestComplete_RequestShape(t *testing.T) {
	t.Parallel()
	var body []byte
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, generated)
	})

	maxTokens := 100
	resp, err := p.Complete(context.Background(), "gemini-2.0-flash", "translate", aiwarp.RequestOptions{
		Context:        "you translate to French",
		History:        []aiwarp.HistoryEntry{{Prompt: "hello", Response: "bonjour"}},
		MaxTokens:      &maxTokens,
		ResponseFormat: json.RawMessage(`{"type":"json_schema","json_schema":{"name":"t","schema":{"type":"object"}}}`),
		Tools: json.RawMessage(`[{"functionDeclarations":[
			{"name":"lookup","description":"d"},
			{"name":"forbidden"}
		]}]`),
		AllowedTools: []string{"lookup"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bonjour le monde", resp.Text)
	assert.Equal(t, aiwarp.ResultComplete, resp.Result)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)

	assert.JSONEq(t, `[
		{"role":"user","parts":[{"text":"hello"}]},
		{"role":"model","parts":[{"text":"bonjour"}]},
		{"role":"user","parts":[{"text":"translate"}]}
	]`, gjson.GetBytes(body, "contents").Raw)
	assert.Equal(t, "you translate to French", gjson.GetBytes(body, "systemInstruction.parts.0.text").String())
	assert.EqualValues(t, 100, gjson.GetBytes(body, "generationConfig.maxOutputTokens").Int())
	assert.Equal(t, "application/json", gjson.GetBytes(body, "generationConfig.responseMimeType").String())
	assert.JSONEq(t, `{"type":"object"}`, gjson.GetBytes(body, "generationConfig.responseSchema").Raw)
	assert.JSONEq(t, `[{"functionDeclarations":[{"name":"lookup","description":"d"}]}]`, gjson.GetBytes(body, "tools").Raw)
	assert.False(t, gjson.GetBytes(body, "generationConfig.temperature").Exists())
}

func TestComplete_MinimalBodyOmitsConfig(t *testing.T) {
	t.Parallel()
	var body []byte
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, generated)
	})

	_, err := p.Complete(context.Background(), "gemini-1.5-flash", "hi", aiwarp.RequestOptions{})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(body, "generationConfig").Exists())
	assert.False(t, gjson.GetBytes(body, "systemInstruction").Exists())
	assert.False(t, gjson.GetBytes(body, "tools").Exists())
}

func TestComplete_FinishReasons(t *testing.T) {
	t.Parallel()
	tests := map[string]aiwarp.ResultKind{
		"STOP":       aiwarp.ResultComplete,
		"MAX_TOKENS": aiwarp.ResultIncompleteMaxTokens,
		"SAFETY":     aiwarp.ResultIncompleteUnknown,
	}
	for reason, want := range tests {
		t.Run(reason, func(t *testing.T) {
			t.Parallel()
			p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"`+reason+`"}]}`)
			})
			resp, err := p.Complete(context.Background(), "gemini-2.0-flash", "x", aiwarp.RequestOptions{})
			require.NoError(t, err)
			assert.Equal(t, want, resp.Result)
		})
	}
}

func TestComplete_BlockedPromptIsNoContent(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	})

	_, err := p.Complete(context.Background(), "gemini-2.0-flash", "x", aiwarp.RequestOptions{})
	var noContent *aiwarp.NoContentError
	require.ErrorAs(t, err, &noContent)
	assert.Equal(t, "gemini-2.0-flash", noContent.Model)
	assert.Equal(t, http.StatusOK, noContent.StatusCode)
	assert.Contains(t, noContent.Body, "blockReason")
	assert.Contains(t, err.Error(), "status 200")
}

func TestStream_UsesSSEEndpoint(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\r\n\r\n")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`+"\r\n\r\n")
	})

	rc, err := p.Stream(context.Background(), "gemini-2.0-flash", "x", aiwarp.RequestOptions{})
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)

	records := sse.Parse(raw)
	require.Len(t, records, 3)
	assert.JSONEq(t, `{"response":"Hel"}`, records[0].Data)
	assert.JSONEq(t, `{"response":"lo"}`, records[1].Data)
	assert.JSONEq(t, `{"response":"COMPLETE"}`, records[2].Data)
}

func TestStream_QuotaErrorBeforeFirstByte(t *testing.T) {
	t.Parallel()
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := p.Stream(context.Background(), "gemini-2.0-flash", "x", aiwarp.RequestOptions{})
	assert.True(t, aiwarp.IsRateLimited(err))
}
