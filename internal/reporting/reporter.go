// File: internal/reporting/reporter.go
package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// File names inside the run directory.
const (
	JUnitFileName   = "TestResults.xml"
	MetricsFileName = "metrics.prom"
)

// Summary is the structured result of one run.
type Summary struct {
	Project     string           `json:"project"`
	Timestamp   string           `json:"timestamp"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
	Duration    time.Duration    `json:"durationNanos"`
	Total       int              `json:"totalTestCases"`
	Passed      int              `json:"passedTestCases"`
	Failed      int              `json:"failedTestCases"`
	TotalSteps  int              `json:"totalSteps"`
	PassedSteps int              `json:"passedSteps"`
	FailedSteps int              `json:"failedSteps"`
	TestCases   []TestCaseReport `json:"testCases"`
}

// Artifacts lists the files written for a run. ResultArtifact is the file offered to the
// upload client and is empty when result_format is none.
type Artifacts struct {
	Dir            string
	HTMLReport     string
	ExcelReport    string
	SummaryJSON    string
	JUnitXML       string
	CucumberJSON   string
	Metrics        string
	ResultArtifact string
}

// artifactWriter renders a summary into a single file.
type artifactWriter func(path string, s Summary) error

// resultArtifact picks the upload artifact for the configured result format.
func resultArtifact(format string, a *Artifacts) (string, error) {
	switch strings.ToLower(format) {
	case config.ResultFormatJSON:
		return a.CucumberJSON, nil
	case config.ResultFormatXML:
		return a.JUnitXML, nil
	case config.ResultFormatNone, "":
		return "", nil
	default:
		return "", fmt.Errorf("unsupported result format: %s", format)
	}
}

// writeArtifacts renders every report file concurrently.
func writeArtifacts(ctx context.Context, dir string, cfg config.ReportingConfig, s Summary) (*Artifacts, error) {
	project := cfg.ProjectName
	if project == "" {
		project = "BatchPilot"
	}
	a := &Artifacts{
		Dir:          dir,
		HTMLReport:   filepath.Join(dir, fmt.Sprintf("%s_Report_%s.html", project, s.Timestamp)),
		ExcelReport:  filepath.Join(dir, fmt.Sprintf("%s_Report_%s.xlsx", strings.Join(strings.Fields(project), "_"), s.Timestamp)),
		SummaryJSON:  filepath.Join(dir, fmt.Sprintf("ExecutionSummary_%s.json", s.Timestamp)),
		JUnitXML:     filepath.Join(dir, JUnitFileName),
		CucumberJSON: filepath.Join(dir, fmt.Sprintf("RunReport_%s.json", s.Timestamp)),
	}
	if cfg.Metrics {
		a.Metrics = filepath.Join(dir, MetricsFileName)
	}

	ref, err := resultArtifact(cfg.ResultFormat, a)
	if err != nil {
		return nil, err
	}
	a.ResultArtifact = ref

	writers := map[string]artifactWriter{
		a.HTMLReport:   writeHTML,
		a.ExcelReport:  writeExcel,
		a.SummaryJSON:  writeSummaryJSON,
		a.JUnitXML:     writeJUnit,
		a.CucumberJSON: writeCucumber,
	}
	if a.Metrics != "" {
		writers[a.Metrics] = writeMetrics
	}

	g, gctx := errgroup.WithContext(ctx)
	for path, write := range writers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := write(path, s); err != nil {
				return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return a, nil
}

func writeSummaryJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
