package list

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "list registered scrapers.",
	Long:  "list registered scrapers with their entries, steps and speculators.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		List()
	},
}

var SchemaCmd = &cobra.Command{
	Use:   "schema [scraper]",
	Short: "print a scraper's entry schema.",
	Long:  "print the JSON-schema description of a scraper's entry points.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Schema(args[0])
	},
}

func List() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Scraper", "Status", "Entries", "Steps", "Speculators", "Source"})
	for _, sc := range scraper.DefaultStore.List() {
		var entries []string
		for _, e := range sc.ListEntries() {
			entries = append(entries, e.Name)
		}
		var steps []string
		for _, s := range sc.ListSteps() {
			steps = append(steps, s.Name)
		}
		var speculators []string
		for _, sp := range sc.ListSpeculators() {
			speculators = append(speculators,
				fmt.Sprintf("%s(<=%d,+%d)", sp.Name, sp.HighestObserved, sp.LargestObservedGap))
		}
		t.AppendRow(table.Row{
			sc.Name,
			string(sc.Status),
			strings.Join(entries, "\n"),
			strings.Join(steps, "\n"),
			strings.Join(speculators, "\n"),
			sc.SourceURL,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func Schema(name string) error {
	sc, ok := scraper.DefaultStore.Get(name)
	if !ok {
		return fmt.Errorf("unknown scraper %q", name)
	}
	encoded, err := json.MarshalIndent(sc.Schema(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
