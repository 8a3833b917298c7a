package scraper

import "time"

// Wait conditions are step metadata consumed by browser-automation
// drivers before snapshotting the DOM. The HTTP driver carries them
// untouched so scrapers stay portable between driver flavors.

type WaitCondition interface{ isWaitCondition() }

// WaitForSelector waits for a selector to appear in the DOM.
type WaitForSelector struct {
	Selector string
	// State is "attached", "detached", "visible" or "hidden"; empty means
	// visible.
	State   string
	Timeout time.Duration
}

func (WaitForSelector) isWaitCondition() {}

// WaitForLoadState waits for "load", "domcontentloaded" or "networkidle".
type WaitForLoadState struct {
	State   string
	Timeout time.Duration
}

func (WaitForLoadState) isWaitCondition() {}

// WaitForURL waits for the page URL to match a pattern.
type WaitForURL struct {
	URL     string
	Timeout time.Duration
}

func (WaitForURL) isWaitCondition() {}

// WaitForTimeout waits a fixed duration.
type WaitForTimeout struct {
	Timeout time.Duration
}

func (WaitForTimeout) isWaitCondition() {}
