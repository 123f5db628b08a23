package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderSummary prints the end-of-run table: one row per test case plus totals, the
// elapsed time and the report location.
func RenderSummary(w io.Writer, s Summary, reportDir string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s Results (%s)", s.Project, s.Duration.Truncate(time.Millisecond)))
	t.AppendHeader(table.Row{"Test Case", "Feature", "Steps", "Passed", "Failed", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Feature", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Steps", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
	})

	for _, tc := range s.TestCases {
		t.AppendRow(table.Row{
			tc.TestCaseID,
			tc.FeatureFile,
			tc.TotalSteps,
			tc.PassedSteps,
			tc.FailedSteps,
			statusText(tc.Status),
		})
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d test cases", s.Total),
		s.TotalSteps,
		s.PassedSteps,
		s.FailedSteps,
		fmt.Sprintf("%d/%d passed", s.Passed, s.Total),
	})
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.Render()

	fmt.Fprintf(w, "Successful: %d  Failed: %d  Elapsed: %s\n", s.Passed, s.Failed, s.Duration.Truncate(time.Millisecond))
	if reportDir != "" {
		fmt.Fprintf(w, "Reports: %s\n", reportDir)
	}
}

func statusText(s Status) string {
	if s == StatusFail {
		return text.FgRed.Sprint("FAIL")
	}
	return text.FgGreen.Sprint("PASS")
}
