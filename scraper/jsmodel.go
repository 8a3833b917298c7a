package scraper

import (
	"fmt"

	"github.com/robertkrimen/otto"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// JSRule is one step of a JSModel: its name, priority and parse script.
type JSRule struct {
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	ParseScript string `json:"parse_script"`
}

// JSModel defines a scraper dynamically from JavaScript: a root script
// producing the entry requests and one parse script per step. Models
// usually arrive as JSON documents next to the binary.
type JSModel struct {
	Name       string   `json:"name"`
	SourceURL  string   `json:"url"`
	RootScript string   `json:"root_script"`
	Rules      []JSRule `json:"rule"`
}

// FromJSModel compiles a JS model into a regular Scraper. The root script
// calls AddJsReq with an array of request objects; each parse script reads
// the global ctx ({url, text, accumulated}) and evaluates to an object
// with "requests" and "items" arrays.
func FromJSModel(m *JSModel) (*Scraper, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("js scraper model needs a name")
	}
	if m.RootScript == "" {
		return nil, fmt.Errorf("js scraper model %q needs a root script", m.Name)
	}

	sc := &Scraper{
		Name:      m.Name,
		SourceURL: m.SourceURL,
		Status:    StatusInDevelopment,
		Steps:     map[string]*Step{},
		Entries:   map[string]*Entry{},
	}

	root := m.RootScript
	sc.Entries["root"] = &Entry{
		Returns: "document",
		Fn: func(args Args, yield func(*scrape.Request) error) error {
			vm := otto.New()
			if err := vm.Set("AddJsReq", jsRequests); err != nil {
				return err
			}
			v, err := vm.Run(root)
			if err != nil {
				return fmt.Errorf("js root script for %q: %w", m.Name, err)
			}
			exported, err := v.Export()
			if err != nil {
				return fmt.Errorf("js root script for %q: %w", m.Name, err)
			}
			reqs, ok := exported.([]*scrape.Request)
			if !ok {
				return fmt.Errorf("js root script for %q must evaluate to AddJsReq(...)", m.Name)
			}
			for _, req := range reqs {
				if err := yield(req); err != nil {
					return err
				}
			}
			return nil
		},
	}

	for _, rule := range m.Rules {
		script := rule.ParseScript
		stepName := rule.Name
		sc.Steps[stepName] = &Step{
			Name:     stepName,
			Priority: rule.Priority,
			Fn: func(ctx *Context, yield func(any) error) error {
				vm := otto.New()
				err := vm.Set("ctx", map[string]any{
					"url":         ctx.Response().FinalURL,
					"text":        ctx.Text(),
					"accumulated": ctx.AccumulatedData(),
				})
				if err != nil {
					return err
				}
				if err := vm.Set("AddJsReq", jsRequests); err != nil {
					return err
				}
				v, err := vm.Run(script)
				if err != nil {
					return scrape.NewAssumptionError(
						"JS parse script failed", ctx.Response().FinalURL,
						map[string]any{"step": stepName, "error": err.Error()})
				}
				exported, err := v.Export()
				if err != nil || exported == nil {
					return nil
				}
				result, ok := exported.(map[string]any)
				if !ok {
					return nil
				}
				for _, item := range jsSlice(result["items"]) {
					if err := yield(scrape.ParsedData{Data: item}); err != nil {
						return err
					}
				}
				switch reqs := result["requests"].(type) {
				case []*scrape.Request:
					for _, req := range reqs {
						if err := yield(req); err != nil {
							return err
						}
					}
				case []map[string]any:
					for _, jreq := range reqs {
						if req := jsRequest(jreq); req != nil {
							if err := yield(req); err != nil {
								return err
							}
						}
					}
				default:
					for _, raw := range jsSlice(result["requests"]) {
						if jreq, ok := raw.(map[string]any); ok {
							if req := jsRequest(jreq); req != nil {
								if err := yield(req); err != nil {
									return err
								}
							}
						}
					}
				}
				return nil
			},
		}
	}

	return sc, sc.Validate()
}

// jsRequests converts an array of JS request objects into requests; it is
// exposed to scripts as AddJsReq.
func jsRequests(jreqs []map[string]any) []*scrape.Request {
	reqs := make([]*scrape.Request, 0, len(jreqs))
	for _, jreq := range jreqs {
		if req := jsRequest(jreq); req != nil {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

func jsRequest(jreq map[string]any) *scrape.Request {
	u, ok := jreq["Url"].(string)
	if !ok {
		return nil
	}
	req := &scrape.Request{HTTP: scrape.HTTPParams{URL: u}}
	req.Continuation, _ = jreq["Continuation"].(string)
	req.HTTP.Method, _ = jreq["Method"].(string)
	req.Priority = jsInt(jreq["Priority"])
	return req
}

// jsSlice flattens the concrete slice shapes otto exports into []any.
func jsSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

func jsInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
