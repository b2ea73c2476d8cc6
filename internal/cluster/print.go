package cluster

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/fleetrun/internal/node"
)

// Print writes a summary of the orchestrator and every member node.
func (c *Cluster) Print(w io.Writer) error {
	set := c.Snapshot()
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("fleetrun: %d nodes", set.Len())))
	b.WriteString("\n")
	if c.local != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("orchestrator %s as %s", c.local.Hostname, c.local.User)))
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render("Nodes"))
	b.WriteString("\n")
	rows := [][]string{{"HOSTNAME", "ADDRESS", "EXTERNAL", "USER", "KIND", "DISTRO"}}
	for _, n := range set.nodes {
		rows = append(rows, []string{
			orDash(n.Hostname), n.Address, orDash(n.ExternalAddress), n.User, kind(n), orDash(n.Info.Distro),
		})
	}
	b.WriteString(renderRows(rows))

	_, err := io.WriteString(w, b.String())
	return err
}

// PrintReport writes one line per node of a fan-out.
func PrintReport(w io.Writer, r Report) error {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(r.Operation))
	b.WriteString("\n")
	for _, o := range r.Outcomes {
		if o.Err != nil {
			b.WriteString(failedStyle.Render(crossMark) + " " + o.Node.String() + " " + dimStyle.Render(o.Err.Error()) + "\n")
			continue
		}
		b.WriteString(readyStyle.Render(checkMark) + " " + o.Node.String() + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintCopyReport writes the transfers of a broadcast grouped by round.
func PrintCopyReport(w io.Writer, r CopyReport) error {
	var b strings.Builder
	for i, round := range r.ByRound() {
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Round %d", i+1)))
		b.WriteString("\n")
		for _, t := range round {
			mark := readyStyle.Render(checkMark)
			if t.Err != nil {
				mark = failedStyle.Render(crossMark)
			}
			b.WriteString(fmt.Sprintf("%s %s -> %s\n", mark, t.From.Address, t.To.Address))
		}
	}
	for _, n := range r.Skipped {
		b.WriteString(dimStyle.Render(skipMark+" "+n.Address+" skipped") + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func renderRows(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + 2)
			if r == 0 {
				style = style.Foreground(colorDim)
			}
			cells[i] = style.Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " "))
		b.WriteString("\n")
	}
	return b.String()
}

func kind(n *node.Node) string {
	if n.IsCloud {
		return "cloud"
	}
	return "adopted"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
