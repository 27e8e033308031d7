package aiwarp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProvider answers every call with err, or with a response echoing the
// model when err is nil
type fakeProvider struct {
	name   string
	err    error
	calls  atomic.Int32
	models []string
	closed atomic.Bool
	// closeErr is returned from Close
	closeErr error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, model, prompt string, opts RequestOptions) (*Response, error) {
	f.calls.Add(1)
	f.models = append(f.models, model)
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: f.name + " says " + prompt, Result: ResultComplete}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, model, prompt string, opts RequestOptions) (io.ReadCloser, error) {
	f.calls.Add(1)
	f.models = append(f.models, model)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("event: content\ndata: {\"response\":\"hi\"}\n\n")), nil
}

func (f *fakeProvider) Close(ctx context.Context) error {
	f.closed.Store(true)
	return f.closeErr
}

func failing(name string, status int) *fakeProvider {
	return &fakeProvider{name: name, err: &ResponseError{ProviderError: ProviderError{Provider: name, StatusCode: status, Body: "down"}}}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New()
	var optErr *OptionError
	require.ErrorAs(t, err, &optErr)
	assert.ErrorIs(t, err, ErrNoProviders)

	_, err = New(WithProvider(&fakeProvider{name: "openai"}), WithModels("anthropic:claude"))
	require.ErrorAs(t, err, &optErr)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New(WithProvider(&fakeProvider{name: "openai"}), WithModels("gpt-4o"))
	require.ErrorAs(t, err, &optErr)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestRequest_FirstSuccessWins(t *testing.T) {
	t.Parallel()
	a := failing("a", 500)
	b := failing("b", 503)
	c := &fakeProvider{name: "c"}
	d := &fakeProvider{name: "d"}

	r, err := New(
		WithProvider(a), WithProvider(b), WithProvider(c), WithProvider(d),
		WithModels("a:m1", "b:m2", "c:m3", "d:m4"),
	)
	require.NoError(t, err)

	res, err := r.Request(context.Background(), &Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, Candidate{Provider: "c", Model: "m3"}, res.Candidate)
	assert.Equal(t, "c says hello", res.Response.Text)
	assert.Equal(t, "c", res.Response.Provider)
	assert.Equal(t, "m3", res.Response.Model)
	assert.Nil(t, res.Stream)

	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.EqualValues(t, 1, c.calls.Load())
	assert.EqualValues(t, 0, d.calls.Load())
}

func TestRequest_ExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()
	quota := &fakeProvider{name: "a", err: &ExceededQuotaError{ProviderError: ProviderError{Provider: "a", StatusCode: 429}}}
	down := failing("b", 502)

	r, err := New(WithProvider(quota), WithProvider(down), WithModels("a:m1", "b:m2"))
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), &Request{Prompt: "x"})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "b", respErr.Provider)
	assert.Equal(t, "m2", respErr.Model)
	assert.Equal(t, 502, respErr.StatusCode)
	assert.Equal(t, CodeResponse, CodeOf(err))
	assert.False(t, IsRateLimited(err))
}

func TestRequest_SingleCandidateErrorIsUnchanged(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{name: "a", err: &ExceededQuotaError{ProviderError: ProviderError{Provider: "a", StatusCode: 429, Body: "slow down"}}}
	r, err := New(WithProvider(p), WithModels("a:m1"))
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), &Request{Prompt: "x"})
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, CodeExceededQuota, CodeOf(err))
	assert.Equal(t, "provider a (m1) exceeded quota: status 429: slow down", err.Error())
}

func TestRequest_ExhaustionNamesCandidateOfPlainError(t *testing.T) {
	t.Parallel()
	first := failing("a", 500)
	open := &fakeProvider{name: "b", err: fmt.Errorf("b: %w", ErrCircuitOpen)}
	r, err := New(WithProvider(first), WithProvider(open), WithModels("a:m1", "b:m2"))
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), &Request{Prompt: "x"})
	require.ErrorIs(t, err, ErrCircuitOpen)
	var candErr *CandidateError
	require.ErrorAs(t, err, &candErr)
	assert.Equal(t, Candidate{Provider: "b", Model: "m2"}, candErr.Candidate)
	assert.Equal(t, "provider b (m2): b: circuit breaker is open", err.Error())

	var respErr *ResponseError
	assert.False(t, errors.As(err, &respErr), "earlier failures are dropped")
}

func TestRequest_OptionErrorStopsWalk(t *testing.T) {
	t.Parallel()
	bad := &fakeProvider{name: "a", err: &OptionError{Message: "bad tools payload"}}
	good := &fakeProvider{name: "b"}
	r, err := New(WithProvider(bad), WithProvider(good), WithModels("a:m1", "b:m2"))
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), &Request{Prompt: "x"})
	var optErr *OptionError
	require.ErrorAs(t, err, &optErr)
	assert.EqualValues(t, 0, good.calls.Load())
}

func TestRequest_CancelledContextStopsWalk(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeProvider{name: "a", err: errors.New("boom")}
	second := &fakeProvider{name: "b"}
	r, err := New(WithProvider(first), WithProvider(second), WithModels("a:m1", "b:m2"))
	require.NoError(t, err)

	cancel()
	_, err = r.Complete(ctx, &Request{Prompt: "x"})
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, second.calls.Load())
}

func TestRequest_ExplicitModelsOverrideDefaults(t *testing.T) {
	t.Parallel()
	openai := &fakeProvider{name: "openai"}
	litellm := &fakeProvider{name: "litellm"}
	r, err := New(WithProvider(openai), WithProvider(litellm), WithModels("openai:gpt-4o-mini"))
	require.NoError(t, err)

	res, err := r.Request(context.Background(), &Request{
		Prompt: "hi",
		Models: []string{"litellm:claude-3-haiku"},
	})
	require.NoError(t, err)
	assert.Equal(t, "litellm", res.Candidate.Provider)
	assert.Equal(t, []string{"claude-3-haiku"}, litellm.models)
	assert.EqualValues(t, 0, openai.calls.Load())
}

func TestRequest_DeepSeekFallsBackToOpenAI(t *testing.T) {
	t.Parallel()
	deepseek := failing("deepseek", 500)
	openai := &fakeProvider{name: "openai"}
	r, err := New(WithProvider(deepseek), WithProvider(openai), WithModels("deepseek:deepseek-chat", "openai:gpt-4o-mini"))
	require.NoError(t, err)

	res, err := r.Request(context.Background(), &Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", res.Candidate.String())
	assert.Equal(t, []string{"deepseek-chat"}, deepseek.models)
}

func TestRequest_InvalidOverrideIsOptionError(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{name: "openai"}
	r, err := New(WithProvider(p))
	require.NoError(t, err)

	_, err = r.Request(context.Background(), &Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = r.Request(context.Background(), &Request{Prompt: "hi", Models: []string{"mistral:large"}})
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, CodeOption, CodeOf(err))
	assert.EqualValues(t, 0, p.calls.Load())
}

func TestRequest_StreamDispatch(t *testing.T) {
	t.Parallel()
	down := failing("a", 500)
	up := &fakeProvider{name: "b"}
	r, err := New(WithProvider(down), WithProvider(up), WithModels("a:m1", "b:m2"))
	require.NoError(t, err)

	rc, err := r.Stream(context.Background(), &Request{Prompt: "hi"})
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "event: content")
}

type recordingMiddleware struct {
	name  string
	trace *[]string
}

func (m recordingMiddleware) Wrap(next Provider) Provider {
	return &recordingProvider{Provider: next, name: m.name, trace: m.trace}
}

type recordingProvider struct {
	Provider
	name  string
	trace *[]string
}

func (p *recordingProvider) Complete(ctx context.Context, model, prompt string, opts RequestOptions) (*Response, error) {
	*p.trace = append(*p.trace, p.name)
	return p.Provider.Complete(ctx, model, prompt, opts)
}

func TestMiddlewareOrder(t *testing.T) {
	t.Parallel()
	var trace []string
	r, err := New(
		WithProvider(&fakeProvider{name: "a"}),
		WithModels("a:m"),
		WithMiddleware(recordingMiddleware{"outer", &trace}, recordingMiddleware{"inner", &trace}),
	)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), &Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, trace)
}

func TestRouter_Close(t *testing.T) {
	t.Parallel()
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	r, err := New(WithProvider(a), WithProvider(b))
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.Equal(t, []string{"a", "b"}, r.Providers())
}

func TestRouter_CloseJoinsEveryError(t *testing.T) {
	t.Parallel()
	errA := errors.New("a close failed")
	errC := errors.New("c close failed")
	a := &fakeProvider{name: "a", closeErr: errA}
	b := &fakeProvider{name: "b"}
	c := &fakeProvider{name: "c", closeErr: errC}
	r, err := New(WithProvider(a), WithProvider(b), WithProvider(c))
	require.NoError(t, err)

	err = r.Close(context.Background())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errC)
	assert.True(t, b.closed.Load())
}
