// Package fault defines the error taxonomy shared by the orchestration core.
//
// Every error surfaced to an external collaborator carries a kind, a severity,
// the stage that produced it, and a context map. Kinds map to a fixed status
// class via Classify; the HTTP layer turns the class into a response code.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the category of a fault. The set is flat and extended by
// adding constants, not by introducing new error types.
type Kind string

const (
	KindSessionInvalid      Kind = "session_invalid"
	KindSessionExpired      Kind = "session_expired"
	KindInvalidInput        Kind = "invalid_input"
	KindAnalysisTimeout     Kind = "analysis_timeout"
	KindGenericAnalysis     Kind = "generic_analysis"
	KindClarification       Kind = "clarification"
	KindWorkflow            Kind = "workflow"
	KindStorage             Kind = "storage"
	KindPerformanceDegraded Kind = "performance_degraded"
	KindUnknown             Kind = "unknown"
)

// StatusClass is the externally visible status category of a fault kind.
type StatusClass string

const (
	StatusNotFound           StatusClass = "not_found"
	StatusGone               StatusClass = "gone"
	StatusBadRequest         StatusClass = "bad_request"
	StatusGatewayTimeout     StatusClass = "gateway_timeout"
	StatusServiceUnavailable StatusClass = "service_unavailable"
	StatusInternal           StatusClass = "internal"
)

// statusClasses maps each kind to its fixed status class. Kinds absent from
// the table classify as internal.
var statusClasses = map[Kind]StatusClass{
	KindSessionInvalid:      StatusNotFound,
	KindSessionExpired:      StatusGone,
	KindInvalidInput:        StatusBadRequest,
	KindAnalysisTimeout:     StatusGatewayTimeout,
	KindPerformanceDegraded: StatusServiceUnavailable,
}

// Classify returns the status class for a kind.
func Classify(kind Kind) StatusClass {
	if class, ok := statusClasses[kind]; ok {
		return class
	}
	return StatusInternal
}

// HTTPStatus returns the HTTP response code for a status class.
func (c StatusClass) HTTPStatus() int {
	switch c {
	case StatusNotFound:
		return 404
	case StatusGone:
		return 410
	case StatusBadRequest:
		return 400
	case StatusGatewayTimeout:
		return 504
	case StatusServiceUnavailable:
		return 503
	default:
		return 500
	}
}

// Severity indicates how serious a fault is, independent of its kind.
// It is set by the caller at record time.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sentinel errors that always short-circuit retry, regardless of remaining
// budget or severity.
var (
	ErrNotImplemented   = errors.New("not implemented")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUserCancelled    = errors.New("user cancelled")
	ErrProcessExit      = errors.New("process exited")
	ErrOutOfMemory      = errors.New("out of memory")
)

var nonRetryable = []error{
	ErrNotImplemented,
	ErrPermissionDenied,
	ErrUserCancelled,
	ErrProcessExit,
	ErrOutOfMemory,
}

// Error is a structured fault. Stage and Kind are always populated; New and
// Wrap substitute placeholders when a caller omits them so that no record
// ever lacks its diagnostic surface.
type Error struct {
	Kind     Kind
	Severity Severity
	Stage    string
	Message  string
	Context  map[string]any
	Retries  int
	cause    error
}

// New creates a fault with the given kind, severity, stage and message.
func New(kind Kind, severity Severity, stage, message string) *Error {
	if kind == "" {
		kind = KindUnknown
	}
	if severity == "" {
		severity = SeverityMedium
	}
	if stage == "" {
		stage = "unspecified"
	}
	return &Error{Kind: kind, Severity: severity, Stage: stage, Message: message}
}

// Wrap creates a fault around an underlying error, preserving it for
// errors.Is and errors.As.
func Wrap(kind Kind, severity Severity, stage string, err error) *Error {
	f := New(kind, severity, stage, "")
	if err != nil {
		f.Message = err.Error()
		f.cause = err
	}
	return f
}

// With adds a key/value pair to the fault's context map and returns the
// fault for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetries records the retry count at the time the fault was produced.
func (e *Error) WithRetries(n int) *Error {
	e.Retries = n
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// IsRetryable reports whether an operation that produced err should be
// retried. It is false when the attempt budget is exhausted, when err wraps
// one of the non-retryable sentinels, or when err is a fault with critical
// severity.
func IsRetryable(err error, attempts, maxAttempts int) bool {
	if err == nil {
		return false
	}
	if attempts >= maxAttempts {
		return false
	}
	for _, sentinel := range nonRetryable {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	var f *Error
	if errors.As(err, &f) && f.Severity == SeverityCritical {
		return false
	}
	return true
}

// Record is the immutable, append-only history form of a fault.
type Record struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Stage     string         `json:"stage"`
	Severity  Severity       `json:"severity"`
	Retries   int            `json:"retries"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Record snapshots the fault into its history form. The context map is
// copied so later With calls cannot mutate an already recorded entry.
func (e *Error) Record() Record {
	var ctx map[string]any
	if len(e.Context) > 0 {
		ctx = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			ctx[k] = v
		}
	}
	return Record{
		Kind:      e.Kind,
		Message:   e.Message,
		Stage:     e.Stage,
		Severity:  e.Severity,
		Retries:   e.Retries,
		Context:   ctx,
		Timestamp: time.Now(),
	}
}
