// Package scraper holds the declarative scraper model the driver executes:
// named parsing steps, typed entry points, speculative probes, and the
// metadata that documents a scraper's coverage.
package scraper

import (
	"crypto/tls"
	"fmt"
	"sort"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// Status tracks a scraper's development lifecycle.
type Status string

const (
	StatusInDevelopment Status = "in_development"
	StatusActive        Status = "active"
	StatusRetired       Status = "retired"
)

// Scraper is a bundle of parameterized parsing routines plus metadata. The
// driver treats a Scraper as immutable for the duration of a run.
type Scraper struct {
	// Name should be unique within a registry.
	Name      string
	SourceURL string
	DataTypes []string
	Status    Status
	Version   string
	// LastVerified and OldestRecord are ISO dates, documentation only.
	LastVerified string
	OldestRecord string
	RequiresAuth bool
	// MsecPerRequest is the minimum gap between requests; the CLI turns it
	// into a rate limiter on the fetch manager.
	MsecPerRequest int

	// TLSConfig is handed to the fetch manager for servers needing
	// specific ciphers or TLS versions.
	TLSConfig *tls.Config

	// FailsSuccessfully detects soft-404s: it returns true when a 2xx
	// response actually represents "not found". Consulted by the
	// speculation engine; nil means every 2xx counts as a success.
	FailsSuccessfully func(*scrape.Response) bool

	// Steps maps continuation names to parsing steps.
	Steps map[string]*Step
	// Entries maps entry names to typed entry points, speculative or not.
	Entries map[string]*Entry
}

// Validate checks the scraper's declarations are complete enough to run.
func (s *Scraper) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scraper needs a name")
	}
	for name, step := range s.Steps {
		if step == nil || step.Fn == nil {
			return fmt.Errorf("scraper %s: step %q has no function", s.Name, name)
		}
	}
	for name, entry := range s.Entries {
		if entry == nil {
			return fmt.Errorf("scraper %s: entry %q is nil", s.Name, name)
		}
		if entry.Speculation != nil {
			if entry.Speculator == nil {
				return fmt.Errorf("scraper %s: speculative entry %q has no speculator function", s.Name, name)
			}
			continue
		}
		if entry.Fn == nil {
			return fmt.Errorf("scraper %s: entry %q has no function", s.Name, name)
		}
	}
	return nil
}

// Continuation resolves a continuation name to its step.
func (s *Scraper) Continuation(name string) (*Step, error) {
	step, ok := s.Steps[name]
	if !ok {
		return nil, scrape.NewAssumptionError(
			fmt.Sprintf("Unknown continuation %q on scraper %q", name, s.Name),
			"", map[string]any{"available": s.stepNames()})
	}
	return step, nil
}

// SoftFailure applies the FailsSuccessfully hook; false when absent.
func (s *Scraper) SoftFailure(resp *scrape.Response) bool {
	if s.FailsSuccessfully == nil {
		return false
	}
	return s.FailsSuccessfully(resp)
}

// InitialSeed dispatches typed entry invocations and returns the combined
// entry requests. Each invocation is a single-key mapping of entry name to
// raw parameters; parameters are coerced and validated against the entry's
// declared types.
func (s *Scraper) InitialSeed(invocations []Invocation) ([]*scrape.Request, error) {
	if len(invocations) == 0 {
		return nil, fmt.Errorf("initial seed requires at least one entry invocation")
	}

	var requests []*scrape.Request
	for _, invocation := range invocations {
		for name, rawArgs := range invocation {
			entry, ok := s.Entries[name]
			if !ok {
				return nil, fmt.Errorf("unknown entry %q on scraper %q (available: %v)",
					name, s.Name, s.entryNames())
			}
			if entry.Speculation != nil {
				return nil, fmt.Errorf("entry %q on scraper %q is speculative; it is seeded by the driver, not by invocation",
					name, s.Name)
			}
			args, err := entry.validateArgs(name, rawArgs)
			if err != nil {
				return nil, err
			}
			if err := entry.Fn(args, func(req *scrape.Request) error {
				requests = append(requests, req)
				return nil
			}); err != nil {
				return nil, fmt.Errorf("entry %q: %w", name, err)
			}
		}
	}
	return requests, nil
}

// DefaultInvocations builds one empty invocation per parameterless
// non-speculative entry, the seed used when the caller supplies none.
func (s *Scraper) DefaultInvocations() []Invocation {
	var invocations []Invocation
	for _, name := range s.entryNames() {
		entry := s.Entries[name]
		if entry.Speculation == nil && len(entry.Params) == 0 {
			invocations = append(invocations, Invocation{name: {}})
		}
	}
	return invocations
}

// StepInfo is one row of ListSteps output.
type StepInfo struct {
	Name     string
	Priority int
	Encoding string
}

// ListSteps returns metadata for every declared step, sorted by name.
func (s *Scraper) ListSteps() []StepInfo {
	infos := make([]StepInfo, 0, len(s.Steps))
	for _, name := range s.stepNames() {
		step := s.Steps[name]
		infos = append(infos, StepInfo{
			Name:     name,
			Priority: step.EffectivePriority(),
			Encoding: step.EffectiveEncoding(),
		})
	}
	return infos
}

// EntryInfo is one row of ListEntries output.
type EntryInfo struct {
	Name               string
	Returns            string
	ParamTypes         map[string]string
	Speculative        bool
	HighestObserved    int
	LargestObservedGap int
}

// ListEntries returns metadata for every declared entry, sorted by name.
func (s *Scraper) ListEntries() []EntryInfo {
	infos := make([]EntryInfo, 0, len(s.Entries))
	for _, name := range s.entryNames() {
		entry := s.Entries[name]
		info := EntryInfo{
			Name:       name,
			Returns:    entry.Returns,
			ParamTypes: entry.paramTypeNames(),
		}
		if spec := entry.Speculation; spec != nil {
			info.Speculative = true
			info.HighestObserved = spec.EffectiveHighestObserved()
			info.LargestObservedGap = spec.EffectiveLargestGap()
		}
		infos = append(infos, info)
	}
	return infos
}

// SpeculatorInfo is one row of ListSpeculators output.
type SpeculatorInfo struct {
	Name               string
	HighestObserved    int
	ObservationDate    string
	LargestObservedGap int
}

// ListSpeculators returns metadata for every speculative entry, sorted by
// name.
func (s *Scraper) ListSpeculators() []SpeculatorInfo {
	var infos []SpeculatorInfo
	for _, name := range s.entryNames() {
		entry := s.Entries[name]
		if entry.Speculation == nil {
			continue
		}
		infos = append(infos, SpeculatorInfo{
			Name:               name,
			HighestObserved:    entry.Speculation.EffectiveHighestObserved(),
			ObservationDate:    entry.Speculation.ObservationDate,
			LargestObservedGap: entry.Speculation.EffectiveLargestGap(),
		})
	}
	return infos
}

func (s *Scraper) stepNames() []string {
	names := make([]string, 0, len(s.Steps))
	for name := range s.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scraper) entryNames() []string {
	names := make([]string, 0, len(s.Entries))
	for name := range s.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
