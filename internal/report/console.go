package report

import (
	"fmt"
	"io"

	"github.com/banshee-data/radiation.report/internal/eventlog"
)

// PrintSummary writes the download statistics in the tool's "!--" console
// format.
func PrintSummary(w io.Writer, s eventlog.Summary) error {
	if s.Samples == 0 {
		_, err := fmt.Fprintln(w, "!--no data available")
		return err
	}

	lines := []string{
		fmt.Sprintf("!--samples: %d", s.Samples),
		fmt.Sprintf("!--from:    %s", stamp(s.From)),
		fmt.Sprintf("!--to:      %s", stamp(s.To)),
	}
	for _, v := range s.Values {
		lines = append(lines, fmt.Sprintf("!--values:  %d:\t%d\t%d.%d%%", v.Value, v.Count, v.PerMille/10, v.PerMille%10))
	}
	for _, e := range s.Highest {
		lines = append(lines, fmt.Sprintf("!--highest: %s: %d", stamp(e.Time), e.Count))
	}
	lines = append(lines,
		fmt.Sprintf("!--total:   %d clicks, max %d CPS", s.Total, s.Max),
		fmt.Sprintf("!--mean:    %.3f CPS (sd %.3f), %.1f CPM", s.MeanCPS, s.StdDev, s.MeanCPM),
	)

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
