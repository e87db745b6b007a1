package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/udpburst/pkg/burstclient"
)

var (
	good = lipgloss.Color("#4CAF50")
	warn = lipgloss.Color("#FFB74D")
	bad  = lipgloss.Color("#F44336")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1E88E5"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#30363D")).
			Padding(0, 1)
)

var columns = []string{"DIR", "SEQ", "RECV", "LOSS", "OOO", "JITTER", "TIME"}

// lossColor grades a loss ratio: none, under 5%, worse.
func lossColor(ratio float64) lipgloss.Color {
	switch {
	case ratio == 0:
		return good
	case ratio < 0.05:
		return warn
	default:
		return bad
	}
}

func renderResults(results []*burstclient.Result) string {
	rows := make([][]string, 0, len(results)+1)
	rows = append(rows, columns)

	var expected, received int32
	for _, r := range results {
		expected += r.Expected
		received += r.Received
		rows = append(rows, []string{
			r.Direction,
			fmt.Sprint(r.Seq),
			fmt.Sprintf("%d/%d", r.Received, r.Expected),
			fmt.Sprintf("%.1f%%", r.LossRatio()*100),
			fmt.Sprint(r.OutOfOrder),
			fmt.Sprintf("%dms", r.Jitter),
			r.Duration.Round(100 * time.Microsecond).String(),
		})
	}

	widths := make([]int, len(columns))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for ri, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + 2)
			switch {
			case ri == 0:
				style = style.Inherit(headerStyle)
			case i == 3:
				style = style.Foreground(lossColor(results[ri-1].LossRatio()))
			}
			cells[i] = style.Render(cell)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		if ri < len(rows)-1 {
			b.WriteByte('\n')
		}
	}

	total := (&burstclient.Result{Expected: expected, Received: received}).LossRatio()
	summary := lipgloss.NewStyle().Foreground(lossColor(total)).Render(
		fmt.Sprintf("%d bursts, %d/%d packets, %.2f%% loss", len(results), received, expected, total*100))

	return boxStyle.Render(b.String() + "\n\n" + summary)
}

func renderStatusLine(proto, status string) string {
	color := good
	if !strings.HasPrefix(status, "2") {
		color = bad
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(proto + " " + status)
}
