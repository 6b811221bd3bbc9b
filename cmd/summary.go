package cmd

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

func renderSummary(w io.Writer, s crawler.Summary) {
	outcome := string(s.Outcome)
	if outcome == "" {
		outcome = "IN_PROGRESS"
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Crawl summary")
	if s.RunID != "" {
		t.AppendRow(table.Row{"Run", s.RunID})
	}
	t.AppendRows([]table.Row{
		{"Outcome", outcome},
		{"Kept", s.Kept},
		{"Target", s.Target},
		{"Frontier remaining", s.FrontierRemaining},
		{"Frontier drop events", s.FrontierDropped},
		{"Seen records", s.SeenRecords},
		{"Seen keys", s.SeenKeys},
	})
	t.Render()

	if len(s.TopTags) == 0 {
		return
	}
	tags := table.NewWriter()
	tags.SetOutputMirror(w)
	tags.SetStyle(table.StyleLight)
	tags.AppendHeader(table.Row{"Tag", "Count"})
	for _, tc := range s.TopTags {
		tags.AppendRow(table.Row{tc.Tag, tc.Count})
	}
	tags.Render()
}
