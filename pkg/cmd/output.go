package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/tomecli/tome/pkg/installer"
)

// printSummary renders one line per tomefile entry. Colors are dropped
// automatically when w is not a terminal.
func printSummary(w io.Writer, s *installer.Summary) {
	r := lipgloss.NewRenderer(w)
	label := map[installer.Status]lipgloss.Style{
		installer.StatusInstalled:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		installer.StatusUninstalled: r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		installer.StatusSkipped:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		installer.StatusFailed:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
	faint := r.NewStyle().Faint(true)

	for _, o := range s.Outcomes {
		line := label[o.Status].Render("[ "+string(o.Status)+" ]") + " " + o.Origin
		switch o.Status {
		case installer.StatusInstalled, installer.StatusUninstalled:
			if o.Detail != "" {
				line += " (" + o.Detail + ")"
			}
			fmt.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
			if o.Detail != "" {
				fmt.Fprintln(w, faint.Render("    "+o.Detail))
			}
		}
	}

	fmt.Fprintf(w, "%d succeeded, %d skipped, %d failed\n", len(s.Installed()), len(s.Skipped()), len(s.Failed()))
}
