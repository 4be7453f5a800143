package main

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ashita-ai/tasklane/internal/identity"
	"github.com/ashita-ai/tasklane/internal/registry"
)

func renderRegistryReport(w io.Writer, r registry.SyncReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Seen", "Written", "Failed"})
	tw.AppendRow(table.Row{r.Seen, r.Written, r.Failed})
	tw.Render()
}

func renderIdentityReport(w io.Writer, r identity.Report) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendHeader(table.Row{"Dry run", "Considered", "Auto matched", "Applied", "Needs review", "New profiles"})
	summary.AppendRow(table.Row{r.DryRun, r.Considered, r.AutoMatched, r.Applied, r.NeedsReview, r.NewProfiles})
	summary.Render()

	if len(r.Reviews) > 0 {
		reviews := table.NewWriter()
		reviews.SetOutputMirror(w)
		reviews.SetTitle("Needs review")
		reviews.AppendHeader(table.Row{"Candidates", "Reasons", "Suggested action"})
		for _, d := range r.Reviews {
			reviews.AppendRow(table.Row{
				strings.Join(d.CandidateProfileIDs, ", "),
				strings.Join(d.Reasons, "; "),
				d.SuggestedAction,
			})
		}
		reviews.Render()
	}

	if len(r.Proposals) > 0 {
		proposals := table.NewWriter()
		proposals.SetOutputMirror(w)
		proposals.SetTitle("Proposed profiles")
		proposals.AppendHeader(table.Row{"Name", "Email", "Slack", "ClickUp"})
		for _, p := range r.Proposals {
			proposals.AppendRow(table.Row{p.Name, p.Email, p.SlackUserID, p.ClickUpUserID})
		}
		proposals.Render()
	}
}
