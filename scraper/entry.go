package scraper

import (
	"fmt"
	"sort"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// ParamKind enumerates the accepted entry parameter types.
type ParamKind string

const (
	ParamString ParamKind = "string"
	ParamInt    ParamKind = "integer"
	ParamDate   ParamKind = "date"
	ParamModel  ParamKind = "model"
)

// Param declares one entry parameter. Model params validate a supplied
// mapping against their schema descriptor; the primitives are coerced
// (dates accept ISO strings).
type Param struct {
	Kind  ParamKind
	Model *scrape.Model
}

// Args is a validated, coerced parameter set handed to an entry function.
type Args map[string]any

// Int returns an integer argument.
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// String returns a string argument.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Invocation is a single-key mapping of entry name to raw parameters,
// the wire shape InitialSeed consumes.
type Invocation map[string]map[string]any

// EntryFunc produces the entry requests for one validated invocation.
type EntryFunc func(args Args, yield func(*scrape.Request) error) error

// SpeculatorFunc builds the probe request for one integer ID.
type SpeculatorFunc func(id int) *scrape.Request

// Speculation is the per-speculator metadata governing the probing
// strategy over an ID space.
type Speculation struct {
	// HighestObserved is the highest ID known to exist.
	HighestObserved int
	// LargestObservedGap bounds consecutive absences before probing stops.
	LargestObservedGap int
	// ObservationDate documents when the metadata was last verified.
	ObservationDate string
}

func (s *Speculation) EffectiveHighestObserved() int {
	if s.HighestObserved < 1 {
		return 1
	}
	return s.HighestObserved
}

func (s *Speculation) EffectiveLargestGap() int {
	if s.LargestObservedGap < 0 {
		return 0
	}
	if s.LargestObservedGap == 0 {
		return 10
	}
	return s.LargestObservedGap
}

// SpeculateConfig is a per-run consumer override for one speculator.
type SpeculateConfig struct {
	// DefiniteRange fetches every ID in [Start, End] unconditionally.
	DefiniteRange *[2]int
	// Plus overrides the consecutive-failure tolerance beyond the range;
	// nil falls back to LargestObservedGap, zero stops at the first
	// post-range failure.
	Plus *int
}

// Entry is one typed entry point. Regular entries carry Fn; speculative
// entries carry Speculation and Speculator instead.
type Entry struct {
	// Returns names the data type this entry produces.
	Returns string
	Params  map[string]Param

	Fn EntryFunc

	Speculation *Speculation
	Speculator  SpeculatorFunc
}

// validateArgs coerces and validates a raw parameter mapping against the
// entry's declarations. Unknown and missing parameters are errors.
func (e *Entry) validateArgs(entryName string, raw map[string]any) (Args, error) {
	for supplied := range raw {
		if _, ok := e.Params[supplied]; !ok {
			return nil, fmt.Errorf("entry %q: unknown parameter %q", entryName, supplied)
		}
	}

	args := make(Args, len(e.Params))
	for _, name := range e.paramNames() {
		param := e.Params[name]
		v, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("entry %q: missing parameter %q", entryName, name)
		}
		switch param.Kind {
		case ParamModel:
			doc, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("entry %q: parameter %q expects a mapping, got %T", entryName, name, v)
			}
			if param.Model == nil {
				return nil, fmt.Errorf("entry %q: parameter %q declares no model", entryName, name)
			}
			validated, err := param.Model.Validate(doc, "")
			if err != nil {
				return nil, fmt.Errorf("entry %q: parameter %q: %w", entryName, name, err)
			}
			args[name] = validated
		default:
			coerced, err := scrape.Coerce(v, paramFieldKind(param.Kind))
			if err != nil {
				return nil, fmt.Errorf("entry %q: parameter %q: %w", entryName, name, err)
			}
			args[name] = coerced
		}
	}
	return args, nil
}

func (e *Entry) paramNames() []string {
	names := make([]string, 0, len(e.Params))
	for name := range e.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Entry) paramTypeNames() map[string]string {
	out := make(map[string]string, len(e.Params))
	for name, p := range e.Params {
		if p.Kind == ParamModel && p.Model != nil {
			out[name] = p.Model.Name
		} else {
			out[name] = string(p.Kind)
		}
	}
	return out
}

func paramFieldKind(k ParamKind) scrape.FieldKind {
	switch k {
	case ParamInt:
		return scrape.KindInt
	case ParamDate:
		return scrape.KindDate
	default:
		return scrape.KindString
	}
}
