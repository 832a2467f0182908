// Package failure defines the single tagged error value shared by every stage of the pipeline.
//
// A Failure names exactly one stage and one failure kind, and carries whatever context was available
// where it was raised: the operation, the field, the CSS selector consulted, the page URL, and the raw
// value that failed validation. Composing layers only attach the stage; they never rewrite the cause.
package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Stage identifies where in the pipeline a failure surfaced.
type Stage string

// Stages of the crawl run and the ETL state machine.
const (
	StageUnattributed Stage = ""
	StageCrawling     Stage = "crawling"
	StageExtracting   Stage = "extracting"
	StageTransforming Stage = "transforming"
	StageLoading      Stage = "loading"
	StageQueue        Stage = "queue"
)

// Kind is the closed discriminator of failure modes.
type Kind string

// Failure kinds.
const (
	KindUnknown        Kind = "unknown"
	KindBrowser        Kind = "browser"
	KindNavigation     Kind = "navigation"
	KindPageValidation Kind = "page_validation"
	KindFormFill       Kind = "form_fill"
	KindQuery          Kind = "query"
	KindAssertion      Kind = "assertion"
	KindExtract        Kind = "extract"
	KindValidation     Kind = "validation"
	KindLoadDuplicate  Kind = "load_duplicate"
	KindLoadStore      Kind = "load_store"
	KindEnqueue        Kind = "enqueue"
	KindDecode         Kind = "decode"
)

// Failure is the parameterized error raised anywhere in the pipeline.
type Failure struct {
	Stage    Stage  `json:"stage,omitempty"`
	Kind     Kind   `json:"kind"`
	Op       string `json:"op,omitempty"`
	Field    string `json:"field,omitempty"`
	Selector string `json:"selector,omitempty"`
	URL      string `json:"url,omitempty"`
	Raw      string `json:"raw,omitempty"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Option decorates a Failure at construction.
type Option func(*Failure)

// WithField names the field the failure belongs to.
func WithField(field string) Option { return func(f *Failure) { f.Field = field } }

// WithSelector records the CSS selector that was consulted.
func WithSelector(selector string) Option { return func(f *Failure) { f.Selector = selector } }

// WithURL records the page URL current at the time of failure.
func WithURL(url string) Option { return func(f *Failure) { f.URL = url } }

// WithRaw echoes back the offending raw value.
func WithRaw(raw string) Option { return func(f *Failure) { f.Raw = raw } }

// WithCause attaches the lower-level error.
func WithCause(err error) Option { return func(f *Failure) { f.Err = err } }

// New builds a Failure of the given kind for operation op.
func New(kind Kind, op, reason string, opts ...Option) *Failure {
	f := &Failure{Kind: kind, Op: op, Reason: reason}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Error renders the failure as key=value pairs so log lines and dead-letter entries stay greppable.
func (f *Failure) Error() string {
	var b strings.Builder
	if f.Stage != StageUnattributed {
		fmt.Fprintf(&b, "stage=%s ", f.Stage)
	}
	fmt.Fprintf(&b, "kind=%s", f.Kind)
	if f.Op != "" {
		fmt.Fprintf(&b, " op=%s", f.Op)
	}
	if f.Field != "" {
		fmt.Fprintf(&b, " field=%s", f.Field)
	}
	if f.Selector != "" {
		fmt.Fprintf(&b, " selector=%q", f.Selector)
	}
	if f.URL != "" {
		fmt.Fprintf(&b, " url=%s", f.URL)
	}
	if f.Raw != "" {
		fmt.Fprintf(&b, " raw=%q", f.Raw)
	}
	fmt.Fprintf(&b, ": %s", f.Reason)
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// MarshalJSON includes the cause's message, which the struct tags omit.
func (f *Failure) MarshalJSON() ([]byte, error) {
	type alias Failure
	out := struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{alias: (*alias)(f)}
	if f.Err != nil {
		out.Cause = f.Err.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal failure: %w", err)
	}
	return data, nil
}

// Fields returns the failure as structured zap fields.
func (f *Failure) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("failure_stage", string(f.Stage)),
		zap.String("failure_kind", string(f.Kind)),
		zap.String("failure_reason", f.Reason),
	}
	if f.Op != "" {
		fields = append(fields, zap.String("failure_op", f.Op))
	}
	if f.Field != "" {
		fields = append(fields, zap.String("failure_field", f.Field))
	}
	if f.Selector != "" {
		fields = append(fields, zap.String("failure_selector", f.Selector))
	}
	if f.URL != "" {
		fields = append(fields, zap.String("failure_url", f.URL))
	}
	if f.Raw != "" {
		fields = append(fields, zap.String("failure_raw", f.Raw))
	}
	if f.Err != nil {
		fields = append(fields, zap.NamedError("failure_cause", f.Err))
	}
	return fields
}

// WithStage attributes err to stage. A Failure that already names a stage keeps it; a foreign error is
// wrapped into a Failure of KindUnknown so callers always get a *Failure back.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if f.Stage != StageUnattributed {
			return err
		}
		attributed := *f
		attributed.Stage = stage
		return &attributed
	}
	return &Failure{Stage: stage, Kind: KindUnknown, Reason: "unclassified error", Err: err}
}

// As extracts the *Failure from err.
func As(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown when err is not a Failure.
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	f, ok := As(err)
	return ok && f.Kind == kind
}

// Retryable reports whether redelivering the message could change the outcome. Only a duplicate load
// is terminal; everything else is left to the queue's redelivery budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsKind(err, KindLoadDuplicate)
}

// LogFields returns structured fields for any error, expanding Failures.
func LogFields(err error) []zap.Field {
	if f, ok := As(err); ok {
		return f.Fields()
	}
	return []zap.Field{zap.Error(err)}
}
