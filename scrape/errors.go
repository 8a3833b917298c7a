package scrape

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Control sentinels returned by driver callbacks and dispatch plumbing.
var (
	// ErrHalt stops the run without recording an error.
	ErrHalt = errors.New("request failed: halt run")
	// ErrSkip abandons the current request and moves on to the next one.
	ErrSkip = errors.New("request failed: skip request")
)

// AssumptionError is the base type for scraper assumption violations.
// Scrapers encode assumptions about site structure, data formats and
// navigation; when one breaks, the error carries the URL and enough
// context to diagnose what changed.
type AssumptionError struct {
	Message    string
	RequestURL string
	Context    map[string]any
}

func (e *AssumptionError) Error() string {
	parts := []string{e.Message, "URL: " + e.RequestURL}
	if len(e.Context) > 0 {
		parts = append(parts, "Context:")
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, e.Context[k]))
		}
	}
	return strings.Join(parts, "\n")
}

func (e *AssumptionError) isAssumption() {}

// NewAssumptionError builds a plain assumption violation.
func NewAssumptionError(message, requestURL string, context map[string]any) *AssumptionError {
	return &AssumptionError{Message: message, RequestURL: requestURL, Context: context}
}

// IsAssumption reports whether err is (or wraps) any assumption violation:
// structural, data-format, or the base kind.
func IsAssumption(err error) bool {
	var target interface{ isAssumption() }
	return errors.As(err, &target)
}

// UnlimitedCount marks an unbounded ExpectedMax in StructuralError.
const UnlimitedCount = -1

// StructuralError reports that an HTML/JSON shape assumption failed: a
// selector matched a different number of elements than the scraper declared.
type StructuralError struct {
	AssumptionError
	Selector     string
	SelectorType string // "xpath" or "css"
	Description  string
	ExpectedMin  int
	ExpectedMax  int // UnlimitedCount when unbounded
	ActualCount  int
}

// NewStructuralError builds a StructuralError with a formatted message.
func NewStructuralError(selector, selectorType, description string, expectedMin, expectedMax, actualCount int, requestURL string) *StructuralError {
	var expected string
	switch {
	case expectedMax == UnlimitedCount:
		expected = fmt.Sprintf("at least %d", expectedMin)
	case expectedMin == expectedMax:
		expected = fmt.Sprintf("exactly %d", expectedMin)
	default:
		expected = fmt.Sprintf("between %d and %d", expectedMin, expectedMax)
	}
	maxLabel := "unlimited"
	if expectedMax != UnlimitedCount {
		maxLabel = fmt.Sprintf("%d", expectedMax)
	}
	return &StructuralError{
		AssumptionError: AssumptionError{
			Message: fmt.Sprintf(
				"HTML structure mismatch: Expected %s elements for '%s', but found %d",
				expected, description, actualCount),
			RequestURL: requestURL,
			Context: map[string]any{
				"selector":      selector,
				"selector_type": selectorType,
				"expected_min":  expectedMin,
				"expected_max":  maxLabel,
				"actual_count":  actualCount,
			},
		},
		Selector:     selector,
		SelectorType: selectorType,
		Description:  description,
		ExpectedMin:  expectedMin,
		ExpectedMax:  expectedMax,
		ActualCount:  actualCount,
	}
}

// FieldError is a single per-field validation failure.
type FieldError struct {
	Loc string
	Msg string
}

// DataFormatError reports that scraped data failed model validation. The
// site's data format changed, or the extraction logic needs updating.
type DataFormatError struct {
	AssumptionError
	Errors    []FieldError
	FailedDoc map[string]any
	ModelName string
}

// NewDataFormatError builds a DataFormatError with a formatted message.
func NewDataFormatError(fieldErrors []FieldError, failedDoc map[string]any, modelName, requestURL string) *DataFormatError {
	summary := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		summary = append(summary, fe.Loc+": "+fe.Msg)
	}
	return &DataFormatError{
		AssumptionError: AssumptionError{
			Message: fmt.Sprintf("Data validation failed for model '%s': %s",
				modelName, strings.Join(summary, ", ")),
			RequestURL: requestURL,
			Context: map[string]any{
				"model":       modelName,
				"error_count": len(fieldErrors),
			},
		},
		Errors:    fieldErrors,
		FailedDoc: failedDoc,
		ModelName: modelName,
	}
}

// Transient errors are transport failures that may resolve on retry: 5xx,
// 429, timeouts. They carry no implication that the scraper code is wrong.

// IsTransient reports whether err is (or wraps) a transient transport error.
func IsTransient(err error) bool {
	var target interface{ isTransient() }
	return errors.As(err, &target)
}

// ResponseError reports an unexpected HTTP status code from the server.
type ResponseError struct {
	StatusCode    int
	ExpectedCodes []int
	URL           string
}

func (e *ResponseError) Error() string {
	expected := make([]string, 0, len(e.ExpectedCodes))
	for _, c := range e.ExpectedCodes {
		expected = append(expected, fmt.Sprintf("%d", c))
	}
	return fmt.Sprintf("HTTP %d from %s (expected one of: %s)",
		e.StatusCode, e.URL, strings.Join(expected, ", "))
}

func (e *ResponseError) isTransient() {}

// TimeoutError reports that a request exceeded its configured timeout.
type TimeoutError struct {
	URL            string
	TimeoutSeconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Request to %s timed out after %gs", e.URL, e.TimeoutSeconds)
}

func (e *TimeoutError) isTransient() {}
