package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ApexChef/groomflow/internal/engine"
	"github.com/ApexChef/groomflow/internal/item"
	"github.com/ApexChef/groomflow/internal/session"
	"github.com/ApexChef/groomflow/internal/state"
)

// Shared lipgloss styles for CLI output.
var (
	styleSessionID = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	styleHeading   = lipgloss.NewStyle().Bold(true)
	styleSuspend   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleDone      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleDim       = lipgloss.NewStyle().Faint(true)
)

// renderDecision prints the outcome of a run or resume: a pending-decision
// prompt when suspended, the results summary when terminated.
func renderDecision(ctx context.Context, facade *session.Facade, d engine.Decision) error {
	switch d.Kind {
	case engine.Suspend:
		if d.Payload == nil {
			return nil
		}
		fmt.Println(styleSuspend.Render("Suspended: " + d.Payload.Message))
		for _, pi := range d.Payload.Items {
			fmt.Printf("  %s  %-40s score %.0f\n", pi.ID, pi.Title, pi.Score)
			for _, q := range pi.Questions {
				fmt.Println(styleDim.Render("    ? " + q))
			}
		}
		switch d.Payload.Kind {
		case item.InterruptApproval:
			fmt.Printf("\nResolve with: groomflow approve %s\n", facade.ID())
		case item.InterruptContext:
			fmt.Printf("\nResolve with: groomflow context %s --item <id>=\"...\"\n", facade.ID())
		}
		return nil

	case engine.Terminate:
		if d.Err != nil {
			fmt.Println(styleErr.Render("Failed: " + d.Err.Error()))
			return nil // already surfaced; don't double-report
		}
		return printSummary(ctx, facade)
	}
	return nil
}

// printSummary renders the session's results summary.
func printSummary(ctx context.Context, facade *session.Facade) error {
	s, err := facade.GetResultsSummary(ctx)
	if err != nil {
		return err
	}

	fmt.Println(styleDone.Render(fmt.Sprintf("Session %s: %s", s.SessionID, s.Status)))
	fmt.Printf("  items: %d  approved: %d  auto-approved: %d  rejected: %d  exported: %d\n",
		s.TotalItems, s.Approved, s.AutoApproved, s.Rejected, s.Exported)
	if s.AverageScore > 0 {
		fmt.Printf("  average score: %.1f\n", s.AverageScore)
	}
	if s.Error != "" {
		fmt.Println(styleErr.Render("  error: " + s.Error))
	}
	for _, note := range s.Degraded {
		fmt.Println(styleDim.Render("  ! " + note))
	}
	return nil
}

// printDetails renders per-item feedback, dependencies and risk analyses.
func printDetails(snap state.Snapshot) {
	for _, wi := range snap.WorkItems {
		fmt.Printf("\n%s %s\n", styleHeading.Render(wi.ID), wi.Title)
		if sc, ok := snap.ScoreFor(wi.ID); ok {
			for _, m := range sc.Missing {
				fmt.Println(styleDim.Render("  missing: " + m))
			}
			for _, c := range sc.Concerns {
				fmt.Println(styleDim.Render("  concern: " + c))
			}
			for _, r := range sc.Recommendations {
				fmt.Println(styleDim.Render("  suggest: " + r))
			}
		}
		for _, e := range snap.Edges {
			if e.Source != wi.ID {
				continue
			}
			line := fmt.Sprintf("  %s %s (%s)", e.Kind, e.Target, e.Strength)
			if e.Reason != "" {
				line += " — " + e.Reason
			}
			fmt.Println(line)
		}
		for _, r := range snap.Risks {
			if r.WorkItemID != wi.ID {
				continue
			}
			fmt.Printf("  risk: %s\n", r.Level)
			for _, f := range r.Factors {
				fmt.Println(styleDim.Render("    - " + f))
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// parseItemAssignments parses repeated "id=value" flag values.
func parseItemAssignments(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		id, val, ok := strings.Cut(v, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid item assignment %q, expected id=value", v)
		}
		out[id] = val
	}
	return out, nil
}
