// Package stream turns a provider's raw SSE byte stream into the canonical
// event stream: content events, then one end or error event.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	aiwarp "github.com/Simon-Lind-glitch/ai-warp"
	"github.com/Simon-Lind-glitch/ai-warp/sse"
)

const readBufferSize = 32 * 1024

// Transformer converts one in-flight stream. It is single use.
type Transformer struct {
	provider  string
	rewrite   aiwarp.ChunkFunc
	extract   Extractor
	mapResult aiwarp.FinishReasonMapper
	nextID    func() string
	logger    *slog.Logger
}

// Option configures a Transformer
type Option func(*Transformer)

// WithChunkFunc sets the content rewrite callback
func WithChunkFunc(fn aiwarp.ChunkFunc) Option {
	return func(t *Transformer) { t.rewrite = fn }
}

// WithExtractor sets how content and finish reason are read from a record
func WithExtractor(e Extractor) Option {
	return func(t *Transformer) { t.extract = e }
}

// WithFinishReasonMapper sets the backend's finish reason vocabulary
func WithFinishReasonMapper(m aiwarp.FinishReasonMapper) Option {
	return func(t *Transformer) { t.mapResult = m }
}

// WithIDGenerator replaces the UUIDv7 event id source
func WithIDGenerator(fn func() string) Option {
	return func(t *Transformer) { t.nextID = fn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.logger = l }
}

// New creates a Transformer for provider. Without options it reads
// OpenAI-shaped chunks and maps "stop"/"length" finish reasons.
func New(provider string, opts ...Option) *Transformer {
	t := &Transformer{
		provider:  provider,
		extract:   OpenAIExtractor,
		mapResult: aiwarp.MapFinishReason,
		nextID:    newEventID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Pipe starts converting upstream and returns the canonical stream at once.
// Decode and rewrite failures reach the reader as a *aiwarp.StreamError from
// Read. Upstream is always closed: when the stream ends, when it fails, when
// ctx is done, or when the reader closes the returned stream.
func (t *Transformer) Pipe(ctx context.Context, upstream io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	up := &onceCloser{ReadCloser: upstream}
	go t.run(ctx, up, pw)
	return &output{PipeReader: pr, upstream: up}
}

func (t *Transformer) run(ctx context.Context, upstream io.ReadCloser, pw *io.PipeWriter) {
	defer upstream.Close()
	stop := context.AfterFunc(ctx, func() { upstream.Close() })
	defer stop()

	var dec sse.Decoder
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			done, err := t.handle(ctx, dec.Feed(buf[:n]), pw)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if done {
				pw.Close()
				return
			}
		}
		if errors.Is(readErr, io.EOF) {
			if _, err := t.handle(ctx, dec.Flush(), pw); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.Close()
			return
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				pw.CloseWithError(ctxErr)
				return
			}
			pw.CloseWithError(&aiwarp.StreamError{Provider: t.provider, Message: "read upstream", Err: readErr})
			return
		}
	}
}

// handle processes records in arrival order. It reports done once a
// terminal record has been seen; later records are dropped.
func (t *Transformer) handle(ctx context.Context, records []sse.Record, w io.Writer) (bool, error) {
	for _, rec := range records {
		switch {
		case rec.Event == string(aiwarp.EventError):
			return true, t.fail(ctx, w, rec.Data)

		case rec.IsDone():
			return true, nil

		case rec.Event != "":
			t.logger.DebugContext(ctx, "skipping provider stream event", "provider", t.provider, "event", rec.Event)
			continue
		}

		chunk, err := t.extract([]byte(rec.Data))
		if err != nil {
			return true, &aiwarp.StreamError{Provider: t.provider, Message: "decode chunk", Err: err}
		}
		if chunk.Error != "" {
			return true, t.fail(ctx, w, chunk.Error)
		}
		// a finish-only record ends the stream without an empty content event
		if chunk.Content == "" && chunk.FinishReason != "" {
			return true, t.emit(w, aiwarp.EventEnd, aiwarp.EndData{Response: t.mapResult(chunk.FinishReason)})
		}
		content := chunk.Content
		if t.rewrite != nil {
			content, err = t.rewrite(ctx, content)
			if err != nil {
				return true, &aiwarp.StreamError{Provider: t.provider, Message: "rewrite chunk", Err: err}
			}
		}
		if err := t.emit(w, aiwarp.EventContent, aiwarp.ContentData{Response: content}); err != nil {
			return true, err
		}
		if chunk.FinishReason != "" {
			return true, t.emit(w, aiwarp.EventEnd, aiwarp.EndData{Response: t.mapResult(chunk.FinishReason)})
		}
	}
	return false, nil
}

// fail emits the terminal error event for an upstream error payload
func (t *Transformer) fail(ctx context.Context, w io.Writer, data string) error {
	cause := &aiwarp.NoContentError{ProviderError: aiwarp.ProviderError{Provider: t.provider, Body: data}}
	t.logger.ErrorContext(ctx, "provider stream returned error", "provider", t.provider, "data", data)
	return t.emit(w, aiwarp.EventError, aiwarp.ErrorData{Code: cause.Code(), Message: cause.Error()})
}

func (t *Transformer) emit(w io.Writer, kind aiwarp.EventKind, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return &aiwarp.StreamError{Provider: t.provider, Message: "encode event", Err: err}
	}
	_, err = w.Write(sse.Encode(sse.Record{ID: t.nextID(), Event: string(kind), Data: string(payload)}))
	return err
}

// output is the reader side handed to callers. Closing it tears down the
// upstream body so a blocked Read in the pipeline returns.
type output struct {
	*io.PipeReader
	upstream io.Closer
}

func (o *output) Close() error {
	err := o.PipeReader.Close()
	o.upstream.Close()
	return err
}

type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.ReadCloser.Close() })
	return c.err
}
