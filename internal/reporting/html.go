package reporting

import (
	"fmt"
	"html/template"
	"os"
	"time"
)

var reportFuncs = template.FuncMap{
	"formatDuration": func(d time.Duration) string {
		if d < time.Second {
			return fmt.Sprintf("%dms", d.Milliseconds())
		}
		return d.Truncate(time.Millisecond).String()
	},
	"formatTime": func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	},
	"statusClass": func(s Status) string {
		switch s {
		case StatusPass:
			return "pass"
		case StatusFail:
			return "fail"
		case StatusWarning:
			return "warn"
		case StatusSkip:
			return "skip"
		default:
			return "info"
		}
	},
}

var reportTemplate = template.Must(template.New("report").Funcs(reportFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Project}} Execution Report {{.Timestamp}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.pass { color: #2e7d32; } .fail { color: #c62828; } .warn { color: #ef6c00; }
.skip { color: #757575; } .info { color: #1565c0; }
</style>
</head>
<body>
<h1>{{.Project}} Execution Report</h1>
<p>Started {{formatTime .StartedAt}}, finished {{formatTime .FinishedAt}} ({{formatDuration .Duration}})</p>
<p>Test cases: {{.Total}} &middot; <span class="pass">Passed: {{.Passed}}</span> &middot; <span class="fail">Failed: {{.Failed}}</span></p>
{{range .TestCases}}
<h2 class="{{statusClass .Status}}">{{.TestCaseID}}: {{.Description}} [{{.Status}}]</h2>
<p>{{.FeatureFile}} &middot; {{formatDuration .Duration}} &middot; steps {{.TotalSteps}}, passed {{.PassedSteps}}, failed {{.FailedSteps}}</p>
<table>
<tr><th>#</th><th>Step</th><th>Status</th><th>Time</th><th>Detail</th><th>Screenshot</th></tr>
{{range .Steps}}<tr>
<td>{{.StepNumber}}</td><td>{{.Description}}</td><td class="{{statusClass .Status}}">{{.Status}}</td>
<td>{{formatTime .Timestamp}}</td><td>{{.Detail}}</td>
<td>{{if .ScreenshotRef}}<a href="{{.ScreenshotRef}}">view</a>{{end}}</td>
</tr>{{end}}
</table>
{{end}}
</body>
</html>
`))

func writeHTML(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := reportTemplate.Execute(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
