// Package democourt scrapes the demo court site that ships with the
// framework's test server. It doubles as the reference for how scrapers
// are declared: typed entries, checked selectors, accumulated data, an
// archive step, and a speculative probe over sequential case IDs.
package democourt

import (
	"fmt"
	"strings"

	"github.com/Brennan-Chesley-FLP/kent/element"
	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

const baseURL = "http://127.0.0.1:8923"

// CaseModel validates one collected case document.
var CaseModel = &scrape.Model{
	Name: "DemoCase",
	Fields: []scrape.ModelField{
		{Name: "docket", Kind: scrape.KindString, Required: true},
		{Name: "case_name", Kind: scrape.KindString, Required: true},
		{Name: "filed", Kind: scrape.KindDate},
		{Name: "opinion_path", Kind: scrape.KindString},
	},
}

var DemoCourt = &scraper.Scraper{
	Name:           "democourt",
	SourceURL:      baseURL,
	DataTypes:      []string{"opinions", "dockets"},
	Status:         scraper.StatusActive,
	Version:        "2025-07-01",
	LastVerified:   "2025-07-01",
	OldestRecord:   "2001-01-04",
	MsecPerRequest: 250,

	FailsSuccessfully: func(resp *scrape.Response) bool {
		return strings.Contains(resp.Text, "No such case")
	},

	Entries: map[string]*scraper.Entry{
		"recent": {
			Returns: "DemoCase",
			Fn: func(args scraper.Args, yield func(*scrape.Request) error) error {
				return yield(&scrape.Request{
					HTTP:         scrape.HTTPParams{URL: baseURL + "/cases"},
					Continuation: "parse_case_list",
				})
			},
		},
		"search_by_docket": {
			Returns: "DemoCase",
			Params: map[string]scraper.Param{
				"docket_number": {Kind: scraper.ParamString},
			},
			Fn: func(args scraper.Args, yield func(*scrape.Request) error) error {
				return yield(&scrape.Request{
					HTTP: scrape.HTTPParams{
						Method: "POST",
						URL:    baseURL + "/search",
						Form:   map[string]string{"docket": args.String("docket_number")},
					},
					Continuation: "parse_case_list",
				})
			},
		},
		"fetch_case": {
			Returns: "DemoCase",
			Speculation: &scraper.Speculation{
				HighestObserved:    25,
				LargestObservedGap: 5,
				ObservationDate:    "2025-07-01",
			},
			Speculator: func(id int) *scrape.Request {
				return &scrape.Request{
					HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("%s/case/%d", baseURL, id)},
					Continuation: "parse_case",
				}
			},
		},
	},

	Steps: map[string]*scraper.Step{
		"parse_case_list": {Name: "parse_case_list", Fn: parseCaseList},
		"parse_case":      {Name: "parse_case", Priority: 5, Fn: parseCase},
		"parse_opinion":   {Name: "parse_opinion", Fn: parseOpinion},
	},
}

func init() {
	scraper.Register(DemoCourt)
}

// parseCaseList walks the listing and follows each case link, carrying
// the listed case name down the chain.
func parseCaseList(ctx *scraper.Context, yield func(any) error) error {
	tree, err := ctx.Tree()
	if err != nil {
		return err
	}
	links, err := tree.CheckedCSS("div.case a", "case links", 1, element.Unlimited)
	if err != nil {
		return err
	}
	for _, link := range links {
		href, err := link.CheckedAttr("href", "case link href")
		if err != nil {
			return err
		}
		if err := yield(&scrape.Request{
			HTTP:            scrape.HTTPParams{URL: href},
			Continuation:    "parse_case",
			AccumulatedData: map[string]any{"case_name": link.Text()},
		}); err != nil {
			return err
		}
	}
	return nil
}

// parseCase extracts the docket block. When the page links an opinion PDF
// the document is completed by the archive step; otherwise the case is
// emitted as-is.
func parseCase(ctx *scraper.Context, yield func(any) error) error {
	if !ctx.Response().OK() {
		// Speculative probes hit absent IDs; nothing to parse.
		return nil
	}
	tree, err := ctx.Tree()
	if err != nil {
		return err
	}

	docket, err := tree.CheckedCSSOne("span.docket", "docket number")
	if err != nil {
		return err
	}

	acc := ctx.AccumulatedData()
	doc := map[string]any{
		"docket":    docket.Text(),
		"case_name": acc["case_name"],
	}
	if titles, err := tree.CheckedCSS("h1.title", "case title", 0, 1); err == nil && len(titles) == 1 {
		doc["case_name"] = titles[0].Text()
	}
	if filed, err := tree.CheckedCSS("span.filed", "filing date", 0, 1); err == nil && len(filed) == 1 {
		doc["filed"] = filed[0].Text()
	}

	pdfs, err := tree.CheckedCSS("a.opinion", "opinion link", 0, 1)
	if err != nil {
		return err
	}
	if len(pdfs) == 0 {
		return yield(scrape.ParsedData{
			Data: scrape.Defer(CaseModel, doc, ctx.Response().FinalURL),
		})
	}

	href, err := pdfs[0].CheckedAttr("href", "opinion href")
	if err != nil {
		return err
	}
	return yield(&scrape.Request{
		HTTP:            scrape.HTTPParams{URL: href},
		Continuation:    "parse_opinion",
		Archive:         true,
		ExpectedType:    "pdf",
		AccumulatedData: doc,
	})
}

// parseOpinion finishes a case once its opinion file is on disk.
func parseOpinion(ctx *scraper.Context, yield func(any) error) error {
	doc := ctx.AccumulatedData()
	doc["opinion_path"] = ctx.LocalFilepath()
	return yield(scrape.ParsedData{
		Data: scrape.Defer(CaseModel, doc, ctx.Response().FinalURL),
	})
}
