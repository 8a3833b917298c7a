package scraper

import (
	"bytes"
	"encoding/json"
	"io"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/Brennan-Chesley-FLP/kent/element"
	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// StepFunc is one parsing routine. It reads what it needs from the
// Context and pushes each produced item through yield; the driver
// dispatches an item fully before the step produces the next one.
// Items may be scrape.ParsedData, *scrape.Request, or nil (ignored).
//
// Returning a *scrape.StructuralError (or any assumption error) signals
// that the page no longer matches the scraper's expectations.
type StepFunc func(ctx *Context, yield func(item any) error) error

// Step is a named parsing routine plus its queue and decoding defaults.
type Step struct {
	Name string
	// Priority is applied to yielded requests that do not set their own;
	// zero means the framework default.
	Priority int
	// Encoding overrides charset detection for Text and Tree; empty means
	// the response's own decoding.
	Encoding string
	// AwaitList is consumed by browser-automation drivers only; the HTTP
	// driver carries it untouched.
	AwaitList []WaitCondition
	Fn        StepFunc
}

// EffectivePriority resolves the step's default request priority.
func (s *Step) EffectivePriority() int {
	if s.Priority == 0 {
		return scrape.DefaultPriority
	}
	return s.Priority
}

// EffectiveEncoding resolves the step's text encoding.
func (s *Step) EffectiveEncoding() string {
	if s.Encoding == "" {
		return "utf-8"
	}
	return s.Encoding
}

// Context carries everything a step may ask for about the response being
// parsed. Derived views (JSON document, HTML tree) are computed on first
// access and cached; a Context is used by a single step invocation and is
// not safe for concurrent use.
type Context struct {
	response *scrape.Response
	archive  *scrape.ArchiveResponse
	step     *Step

	tree     *element.Element
	treeErr  error
	treeDone bool

	jsonVal  any
	jsonErr  error
	jsonDone bool
}

// NewContext builds the step context for a plain response.
func NewContext(resp *scrape.Response, step *Step) *Context {
	return &Context{response: resp, step: step}
}

// NewArchiveContext builds the step context for an archive response.
func NewArchiveContext(resp *scrape.ArchiveResponse, step *Step) *Context {
	return &Context{response: &resp.Response, archive: resp, step: step}
}

// Response returns the response being parsed.
func (c *Context) Response() *scrape.Response { return c.response }

// Request returns the originating request.
func (c *Context) Request() *scrape.Request { return c.response.Request }

// PreviousRequest returns the parent request, or nil for a seed.
func (c *Context) PreviousRequest() *scrape.Request {
	if c.response.Request == nil {
		return nil
	}
	return c.response.Request.Parent()
}

// AccumulatedData returns the request's accumulated mapping. The step may
// read and extend it; the copy handed to descendants is deep-copied at
// resolution.
func (c *Context) AccumulatedData() map[string]any {
	if c.response.Request == nil {
		return nil
	}
	return c.response.Request.AccumulatedData
}

// AuxData returns the request's navigation-only mapping.
func (c *Context) AuxData() map[string]any {
	if c.response.Request == nil {
		return nil
	}
	return c.response.Request.AuxData
}

// Text returns the decoded response body, honoring the step's encoding
// override when one is declared.
func (c *Context) Text() string {
	if c.step != nil && c.step.Encoding != "" && c.step.Encoding != "utf-8" {
		if enc, err := htmlindex.Get(c.step.Encoding); err == nil {
			decoded, err := io.ReadAll(transform.NewReader(
				bytes.NewReader(c.response.Content), enc.NewDecoder()))
			if err == nil {
				return string(decoded)
			}
		}
	}
	if c.response.Text != "" {
		return c.response.Text
	}
	return string(c.response.Content)
}

// JSONContent parses the body as JSON. A parse failure is a structural
// assumption failure: the endpoint no longer serves what the scraper
// expects.
func (c *Context) JSONContent() (any, error) {
	if !c.jsonDone {
		c.jsonDone = true
		var v any
		if err := json.Unmarshal(c.response.Content, &v); err != nil {
			c.jsonErr = scrape.NewAssumptionError(
				"Failed to parse response as JSON", c.response.FinalURL,
				map[string]any{"error": err.Error()})
		} else {
			c.jsonVal = v
		}
	}
	return c.jsonVal, c.jsonErr
}

// Tree parses the body as HTML into the checked-element wrapper.
func (c *Context) Tree() (*element.Element, error) {
	if !c.treeDone {
		c.treeDone = true
		c.tree, c.treeErr = element.Parse([]byte(c.Text()), c.response.FinalURL)
	}
	return c.tree, c.treeErr
}

// LocalFilepath returns where an archive response's body was persisted;
// empty for non-archive responses.
func (c *Context) LocalFilepath() string {
	if c.archive == nil {
		return ""
	}
	return c.archive.FileURL
}

// ArchiveResponse returns the archive response, or nil.
func (c *Context) ArchiveResponse() *scrape.ArchiveResponse { return c.archive }

// Step returns the step being executed.
func (c *Context) Step() *Step { return c.step }
