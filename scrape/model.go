package scrape

import (
	"fmt"
	"sort"
	"time"
)

// FieldKind enumerates the primitive kinds a model field can take.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "integer"
	KindFloat  FieldKind = "number"
	KindBool   FieldKind = "boolean"
	KindDate   FieldKind = "date"
	KindAny    FieldKind = "any"
)

// ModelField describes one field of a data model.
type ModelField struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Model is a schema descriptor for scraped documents. It is the target of
// deferred validation and the source of column layouts in SQL storage.
type Model struct {
	Name   string
	Fields []ModelField
}

// Validate checks doc against the model, returning a coerced copy or a
// *DataFormatError listing every field failure.
func (m *Model) Validate(doc map[string]any, requestURL string) (map[string]any, error) {
	var fieldErrors []FieldError
	out := make(map[string]any, len(doc))

	for _, f := range m.Fields {
		v, ok := doc[f.Name]
		if !ok || v == nil {
			if f.Required {
				fieldErrors = append(fieldErrors, FieldError{Loc: f.Name, Msg: "field required"})
			}
			continue
		}
		coerced, err := Coerce(v, f.Kind)
		if err != nil {
			fieldErrors = append(fieldErrors, FieldError{Loc: f.Name, Msg: err.Error()})
			continue
		}
		out[f.Name] = coerced
	}

	// Unknown fields pass through untouched.
	known := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		known[f.Name] = true
	}
	for k, v := range doc {
		if !known[k] {
			out[k] = v
		}
	}

	if len(fieldErrors) > 0 {
		sort.Slice(fieldErrors, func(i, j int) bool { return fieldErrors[i].Loc < fieldErrors[j].Loc })
		return nil, NewDataFormatError(fieldErrors, doc, m.Name, requestURL)
	}
	return out, nil
}

// JSONSchema renders the model as a JSON-schema object definition.
func (m *Model) JSONSchema() map[string]any {
	properties := make(map[string]any, len(m.Fields))
	var required []string
	for _, f := range m.Fields {
		properties[f.Name] = kindSchema(f.Kind)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func kindSchema(k FieldKind) map[string]any {
	switch k {
	case KindDate:
		return map[string]any{"type": "string", "format": "date"}
	case KindAny:
		return map[string]any{}
	default:
		return map[string]any{"type": string(k)}
	}
}

// Coerce converts v to the given kind, accepting the usual JSON-decoded
// shapes (float64 for numbers) and ISO strings for dates.
func Coerce(v any, kind FieldKind) (any, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindInt:
		switch t := v.(type) {
		case int:
			return t, nil
		case int64:
			return int(t), nil
		case float64:
			if t != float64(int(t)) {
				return nil, fmt.Errorf("expected integer, got %v", t)
			}
			return int(t), nil
		case string:
			var n int
			if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
				return nil, fmt.Errorf("expected integer, got %q", t)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case KindFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			d, err := time.Parse("2006-01-02", t)
			if err != nil {
				return nil, fmt.Errorf("expected ISO date, got %q", t)
			}
			return d, nil
		default:
			return nil, fmt.Errorf("expected date, got %T", v)
		}
	default:
		return v, nil
	}
}

// DeferredValidation wraps a raw document with its target model so
// validation can run once the driver is ready to deliver the datum.
type DeferredValidation struct {
	Model      *Model
	Doc        map[string]any
	RequestURL string
}

// Defer builds a DeferredValidation for a raw document.
func Defer(model *Model, doc map[string]any, requestURL string) *DeferredValidation {
	return &DeferredValidation{Model: model, Doc: doc, RequestURL: requestURL}
}

// Confirm runs the validation and returns the validated document, or a
// *DataFormatError describing the failures.
func (d *DeferredValidation) Confirm() (map[string]any, error) {
	return d.Model.Validate(d.Doc, d.RequestURL)
}

// RawData returns a copy of the unvalidated document.
func (d *DeferredValidation) RawData() map[string]any {
	return deepCopyMap(d.Doc)
}

// ModelName names the validation target.
func (d *DeferredValidation) ModelName() string { return d.Model.Name }
