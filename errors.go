package aiwarp

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidModel    = errors.New("invalid model")
	ErrNoProviders     = errors.New("no providers registered")
	ErrNoCandidates    = errors.New("no models to try")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
)

// ErrorCode is the stable machine-readable tag of an error
type ErrorCode string

const (
	CodeExceededQuota ErrorCode = "PROVIDER_EXCEEDED_QUOTA_ERROR"
	CodeResponse      ErrorCode = "PROVIDER_RESPONSE_ERROR"
	CodeNoContent     ErrorCode = "PROVIDER_NO_CONTENT_ERROR"
	CodeStream        ErrorCode = "PROVIDER_STREAM_ERROR"
	CodeOption        ErrorCode = "OPTION_ERROR"
)

// Coder is implemented by every error this module returns
type Coder interface {
	Code() ErrorCode
}

// CodeOf returns the code of the first Coder in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// ProviderError holds what every upstream failure carries
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Body       string
}

func (e *ProviderError) label() string {
	if e.Model != "" {
		return e.Provider + " (" + e.Model + ")"
	}
	return e.Provider
}

func (e *ProviderError) annotateModel(model string) {
	if e.Model == "" {
		e.Model = model
	}
}

// ExceededQuotaError is returned when a provider answers 429
type ExceededQuotaError struct {
	ProviderError
}

func (e *ExceededQuotaError) Error() string {
	return fmt.Sprintf("provider %s exceeded quota: status %d: %s", e.label(), e.StatusCode, e.Body)
}

func (e *ExceededQuotaError) Code() ErrorCode { return CodeExceededQuota }

// ResponseError is returned for any other non-2xx answer
type ResponseError struct {
	ProviderError
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("provider %s response error: status %d: %s", e.label(), e.StatusCode, e.Body)
}

func (e *ResponseError) Code() ErrorCode { return CodeResponse }

// NoContentError is returned when a successful answer carries no text, and
// for error records inside a provider stream
type NoContentError struct {
	ProviderError
}

func (e *NoContentError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider %s returned no content: %s", e.label(), e.Body)
	}
	return fmt.Sprintf("provider %s returned no content: status %d: %s", e.label(), e.StatusCode, e.Body)
}

func (e *NoContentError) Code() ErrorCode { return CodeNoContent }

// StreamError is a failure while decoding or rewriting a stream
type StreamError struct {
	Provider string
	Message  string
	Err      error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s stream error: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s stream error: %s", e.Provider, e.Message)
}

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Code() ErrorCode { return CodeStream }

// OptionError reports invalid configuration. It is never retried.
type OptionError struct {
	Message string
	Err     error
}

func (e *OptionError) Error() string {
	return "option error: " + e.Message
}

func (e *OptionError) Unwrap() error { return e.Err }

func (e *OptionError) Code() ErrorCode { return CodeOption }

// CandidateError names the candidate behind a failure that carries no
// provider details of its own, such as a refused connection or an open
// circuit breaker
type CandidateError struct {
	Candidate Candidate
	Err       error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("provider %s (%s): %v", e.Candidate.Provider, e.Candidate.Model, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

type modelAnnotator interface {
	annotateModel(model string)
}

// AnnotateModel records model on the first provider error in err's chain
// that does not name one yet, and returns err.
func AnnotateModel(err error, model string) error {
	var a modelAnnotator
	if errors.As(err, &a) {
		a.annotateModel(model)
	}
	return err
}

// annotateCandidate is AnnotateModel for errors without a ProviderError in
// their chain: those are wrapped in a CandidateError instead.
func annotateCandidate(err error, c Candidate) error {
	var a modelAnnotator
	if !errors.As(err, &a) {
		return &CandidateError{Candidate: c, Err: err}
	}
	a.annotateModel(c.Model)
	return err
}

// ShouldFallback reports whether the router may move on to the next
// candidate after err. Configuration errors and cancellation stop the walk.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	var optErr *OptionError
	if errors.As(err, &optErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// IsRateLimited returns true if the error indicates an exceeded quota
func IsRateLimited(err error) bool {
	var quotaErr *ExceededQuotaError
	return errors.As(err, &quotaErr)
}
