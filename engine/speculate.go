package engine

import (
	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

// specState tracks one speculator's probing progress. All fields are
// guarded by the driver's speculation mutex; each speculator's counters
// are independent.
type specState struct {
	name       string
	speculator scraper.SpeculatorFunc

	// rangeStart..rangeEnd is fetched unconditionally; plus bounds the
	// consecutive failures tolerated beyond the range.
	rangeStart int
	rangeEnd   int
	plus       int

	highestSuccess int
	consecFail     int
	// ceiling is the highest ID handed to the queue so far. Probing
	// extends one ID at a time as each ceiling outcome arrives.
	ceiling int
	stopped bool
}

// initSpeculation resolves each speculative entry's effective range and
// tolerance, applying any per-run consumer overrides.
func (d *Driver) initSpeculation() {
	for _, info := range d.scraper.ListSpeculators() {
		entry := d.scraper.Entries[info.Name]
		st := &specState{
			name:       info.Name,
			speculator: entry.Speculator,
			rangeStart: 1,
			rangeEnd:   info.HighestObserved,
			plus:       info.LargestObservedGap,
		}
		if cfg, ok := d.SpeculateConfigs[info.Name]; ok {
			if cfg.DefiniteRange != nil {
				st.rangeStart = cfg.DefiniteRange[0]
				st.rangeEnd = cfg.DefiniteRange[1]
			}
			if cfg.Plus != nil {
				st.plus = *cfg.Plus
			}
		}
		d.specs[info.Name] = st
	}
}

// seedSpeculators enqueues every ID in each speculator's definite range.
func (d *Driver) seedSpeculators() {
	for _, info := range d.scraper.ListSpeculators() {
		st := d.specs[info.Name]
		d.Logger.Info("seeding speculator",
			zap.String("speculator", st.name),
			zap.Int("range_start", st.rangeStart),
			zap.Int("range_end", st.rangeEnd),
			zap.Int("plus", st.plus))
		st.ceiling = st.rangeEnd
		for id := st.rangeStart; id <= st.rangeEnd; id++ {
			req := d.buildSpeculative(st, id)
			if req == nil {
				d.specOutcome(st.name, id, false)
				continue
			}
			d.enqueue(req)
		}
	}
}

// buildSpeculative asks the speculator function for the probe request and
// marks it with its speculation identity. Speculative requests inherit
// their continuation's priority.
func (d *Driver) buildSpeculative(st *specState, id int) *scrape.Request {
	raw := st.speculator(id)
	if raw == nil {
		return nil
	}
	req := raw.WithSpeculation(st.name, id).Normalize()
	d.applyPriority(req, d.stepFor(req))
	return req
}

// specOutcome records a probe outcome and drives the one-ahead extension:
// when the outcome for the current ceiling arrives and the consecutive
// post-range failure budget is not exhausted, the next ID is enqueued. A
// freshly enqueued ID that gets deduplicated away is folded in as a
// failure immediately, so the loop cannot spin on aliased URLs.
func (d *Driver) specOutcome(name string, id int, success bool) {
	d.specMu.Lock()
	defer d.specMu.Unlock()

	st, ok := d.specs[name]
	if !ok {
		return
	}

	for {
		if success {
			if id > st.highestSuccess {
				st.highestSuccess = id
			}
			st.consecFail = 0
		} else if id > st.rangeEnd && id > st.highestSuccess {
			st.consecFail++
			if st.plus == 0 || st.consecFail >= st.plus {
				if !st.stopped {
					st.stopped = true
					d.Logger.Info("speculator stopped",
						zap.String("speculator", st.name),
						zap.Int("highest_success", st.highestSuccess),
						zap.Int("consecutive_failures", st.consecFail))
				}
			}
		}

		if st.stopped || id != st.ceiling {
			return
		}

		next := st.ceiling + 1
		st.ceiling = next
		req := d.buildSpeculative(st, next)
		if req != nil && d.tryEnqueue(req) {
			return
		}
		// Unbuildable or deduplicated: count it as a failure and keep
		// deciding whether to extend further.
		id, success = next, false
	}
}
