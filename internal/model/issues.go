package model

import "fmt"

// Kind is a processing condition reported in extraction_stats.processing_errors.
type Kind string

const (
	ClassificationFailure Kind = "classification_failure"
	SegmentationEmpty     Kind = "segmentation_empty"
	HierarchyParseWarning Kind = "hierarchy_parse_warning"
	DuplicateMCQLabel     Kind = "duplicate_mcq_label"
	AssetLinkOverflow     Kind = "asset_link_overflow"
	EnrichmentTimeout     Kind = "enrichment_timeout"
	ValidationFailed      Kind = "validation_failed"
)

// Terminal reports whether the kind ends processing of the document.
func (k Kind) Terminal() bool { return k == ClassificationFailure }

// Issue is one recoverable or terminal condition, tied to a question when known.
type Issue struct {
	Kind        Kind
	QuestionRef string
	Detail      string
}

func (i Issue) String() string {
	if i.QuestionRef == "" {
		return fmt.Sprintf("%s: %s", i.Kind, i.Detail)
	}
	return fmt.Sprintf("%s [%s]: %s", i.Kind, i.QuestionRef, i.Detail)
}

// StageError is returned by a stage that cannot continue.
type StageError struct {
	Kind   Kind
	Detail string
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Detail) }

// Status tags a stage result.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warn"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a pipeline stage.
type Result[T any] struct {
	Value  T
	Status Status
	Issues []Issue
	Err    error
}

// OK wraps a clean value.
func OK[T any](v T) Result[T] { return Result[T]{Value: v, Status: StatusOK} }

// Warn wraps a value produced with recoverable issues. With no issues it is OK.
func Warn[T any](v T, issues ...Issue) Result[T] {
	if len(issues) == 0 {
		return OK(v)
	}
	return Result[T]{Value: v, Status: StatusWarning, Issues: issues}
}

// Fatal reports a terminal condition.
func Fatal[T any](kind Kind, detail string) Result[T] {
	return Result[T]{
		Status: StatusFatal,
		Issues: []Issue{{Kind: kind, Detail: detail}},
		Err:    &StageError{Kind: kind, Detail: detail},
	}
}

// Failed reports whether the result is terminal.
func (r Result[T]) Failed() bool { return r.Status == StatusFatal }
