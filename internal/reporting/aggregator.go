// File: internal/reporting/aggregator.go
package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

const (
	// TimestampLayout names the run directory and every artifact inside it.
	TimestampLayout = "2006-01-02_15-04-05"
	// ScreenshotsDirName is the screenshots subfolder of the run directory.
	ScreenshotsDirName = "Screenshots"

	screenshotTimeLayout = "20060102_150405"
)

// Status is the outcome of a step or a test case.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusInfo    Status = "INFO"
	StatusWarning Status = "WARNING"
	StatusSkip    Status = "SKIP"
)

// StepRecord is one logged step of a test case.
type StepRecord struct {
	StepNumber    int       `json:"stepNumber"`
	Description   string    `json:"description"`
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Detail        string    `json:"detail,omitempty"`
	ScreenshotRef string    `json:"screenshot,omitempty"`
}

// TestCaseReport collects the steps of one test case. It is immutable once closed.
type TestCaseReport struct {
	TestCaseID  string        `json:"testCaseId"`
	Description string        `json:"description"`
	FeatureFile string        `json:"featureFile,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"durationNanos"`
	Status      Status        `json:"status"`
	Steps       []StepRecord  `json:"steps"`
	TotalSteps  int           `json:"totalSteps"`
	PassedSteps int           `json:"passedSteps"`
	FailedSteps int           `json:"failedSteps"`
}

// Screenshotter captures the current browser viewport.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Aggregator owns the single timestamp and report directory of one run and collects
// per-test-case results. It is safe for concurrent use.
type Aggregator struct {
	cfg     config.ReportingConfig
	shooter Screenshotter
	logger  *zap.Logger
	now     func() time.Time

	timestamp      string
	startedAt      time.Time
	dir            string
	screenshotsDir string

	mu          sync.Mutex
	current     *TestCaseReport
	stepCounter int
	feature     string
	completed   []TestCaseReport
	finalized   *Artifacts
}

// NewAggregator fixes the run timestamp and creates <base_dir>/<timestamp>/Screenshots.
// shooter may be nil, in which case no screenshots are captured.
func NewAggregator(cfg config.ReportingConfig, shooter Screenshotter, logger *zap.Logger) (*Aggregator, error) {
	return newAggregator(cfg, shooter, logger, time.Now)
}

func newAggregator(cfg config.ReportingConfig, shooter Screenshotter, logger *zap.Logger, now func() time.Time) (*Aggregator, error) {
	started := now()
	a := &Aggregator{
		cfg:       cfg,
		shooter:   shooter,
		logger:    logger.Named("reporting"),
		now:       now,
		timestamp: started.Format(TimestampLayout),
		startedAt: started,
	}
	a.dir = filepath.Join(cfg.BaseDir, a.timestamp)
	a.screenshotsDir = filepath.Join(a.dir, ScreenshotsDirName)
	if err := os.MkdirAll(a.screenshotsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", a.screenshotsDir, err)
	}
	a.logger.Info("Report directory initialized", zap.String("dir", a.dir))
	return a, nil
}

// Timestamp returns the run timestamp every artifact name derives from.
func (a *Aggregator) Timestamp() string { return a.timestamp }

// Dir returns the run report directory.
func (a *Aggregator) Dir() string { return a.dir }

// SetFeature records the feature file attached to test cases started from now on.
func (a *Aggregator) SetFeature(feature string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feature = feature
}

// StartTest opens a report for id and resets step numbering to 1. A test still open is
// closed first.
func (a *Aggregator) StartTest(id, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.logger.Warn("Starting a test case while another is open; closing it",
			zap.String("open", a.current.TestCaseID), zap.String("next", id))
		a.endLocked()
	}
	a.current = &TestCaseReport{
		TestCaseID:  id,
		Description: name,
		FeatureFile: a.feature,
		StartTime:   a.now(),
		Status:      StatusPass,
	}
	a.stepCounter = 1
}

// LogPass records a passed step.
func (a *Aggregator) LogPass(ctx context.Context, name, detail string) {
	a.log(ctx, StatusPass, name, detail)
}

// LogFail records a failed step. The owning test case stays failed.
func (a *Aggregator) LogFail(ctx context.Context, name, detail string) {
	a.log(ctx, StatusFail, name, detail)
}

// LogInfo records an informational step.
func (a *Aggregator) LogInfo(ctx context.Context, name, detail string) {
	a.log(ctx, StatusInfo, name, detail)
}

// LogWarning records a warning step.
func (a *Aggregator) LogWarning(ctx context.Context, name, detail string) {
	a.log(ctx, StatusWarning, name, detail)
}

// LogSkip records a skipped step.
func (a *Aggregator) LogSkip(ctx context.Context, name, detail string) {
	a.log(ctx, StatusSkip, name, detail)
}

func (a *Aggregator) log(ctx context.Context, status Status, name, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		a.logger.Warn("Step logged outside of a test case; dropped",
			zap.String("step", name), zap.String("status", string(status)))
		return
	}

	step := StepRecord{
		StepNumber:  a.stepCounter,
		Description: name,
		Status:      status,
		Timestamp:   a.now(),
		Detail:      detail,
	}
	a.stepCounter++

	if shouldCapture(a.cfg.ScreenshotMode, status) {
		step.ScreenshotRef = a.capture(ctx, a.current.TestCaseID, step.StepNumber, step.Timestamp)
	}

	a.current.Steps = append(a.current.Steps, step)
	a.current.TotalSteps++
	switch status {
	case StatusPass:
		a.current.PassedSteps++
	case StatusFail:
		a.current.FailedSteps++
		a.current.Status = StatusFail
	}
}

// shouldCapture applies the screenshot policy: failures unless mode is none, passes only
// for all and pass_fail, never for the other statuses.
func shouldCapture(mode string, status Status) bool {
	mode = strings.ToLower(mode)
	switch status {
	case StatusFail:
		return mode != config.ScreenshotNone
	case StatusPass:
		return mode == config.ScreenshotAll || mode == config.ScreenshotPassFail
	default:
		return false
	}
}

// ScreenshotName returns the file name for a step screenshot.
func ScreenshotName(testCaseID string, step int, at time.Time) string {
	return fmt.Sprintf("%s_Step%d_%s.png", testCaseID, step, at.Format(screenshotTimeLayout))
}

// capture returns the screenshot path relative to the run directory, or "" on failure.
func (a *Aggregator) capture(ctx context.Context, id string, step int, at time.Time) string {
	if a.shooter == nil {
		return ""
	}
	data, err := a.shooter.Screenshot(ctx)
	if err != nil {
		a.logger.Warn("Screenshot capture failed", zap.String("test_case_id", id), zap.Int("step", step), zap.Error(err))
		return ""
	}
	name := ScreenshotName(id, step, at)
	if err := os.WriteFile(filepath.Join(a.screenshotsDir, name), data, 0o644); err != nil {
		a.logger.Warn("Failed to write screenshot", zap.String("file", name), zap.Error(err))
		return ""
	}
	return ScreenshotsDirName + "/" + name
}

// EndTest closes the open test case. It is a no-op when none is open.
func (a *Aggregator) EndTest() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endLocked()
}

func (a *Aggregator) endLocked() {
	if a.current == nil {
		return
	}
	tc := a.current
	tc.EndTime = a.now()
	tc.Duration = tc.EndTime.Sub(tc.StartTime)
	if tc.FailedSteps > 0 {
		tc.Status = StatusFail
	} else {
		tc.Status = StatusPass
	}
	a.completed = append(a.completed, *tc)
	a.current = nil
	a.logger.Info("Test case finished",
		zap.String("test_case_id", tc.TestCaseID),
		zap.String("status", string(tc.Status)),
		zap.Int("steps", tc.TotalSteps))
}

// HasReport reports whether a test case with id has been started during this run.
func (a *Aggregator) HasReport(id string) bool {
	_, ok := a.Outcome(id)
	return ok
}

// Outcome returns the combined status of every report for id, open or closed. A test
// case is failed when any of its reports failed, e.g. one example of a Scenario Outline.
func (a *Aggregator) Outcome(id string) (Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status, found := Status(""), false
	merge := func(tc *TestCaseReport) {
		if tc.TestCaseID != id {
			return
		}
		found = true
		status = worstStatus(status, tc.Status)
	}
	for i := range a.completed {
		merge(&a.completed[i])
	}
	if a.current != nil {
		merge(a.current)
	}
	return status, found
}

// worstStatus merges two test case statuses; FAIL wins over anything else.
func worstStatus(current, next Status) Status {
	if current == StatusFail || next == StatusFail {
		return StatusFail
	}
	if next == "" {
		return current
	}
	return next
}

// ShareLast records the last closed report again under each of ids. A scenario tagged
// with several selected test cases runs once and reports for all of them.
func (a *Aggregator) ShareLast(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.completed) == 0 {
		return
	}
	last := a.completed[len(a.completed)-1]
	for _, id := range ids {
		if id == last.TestCaseID {
			continue
		}
		tc := last
		tc.TestCaseID = id
		tc.Steps = append([]StepRecord(nil), last.Steps...)
		a.completed = append(a.completed, tc)
	}
}

// RecordUnexecuted adds a closed, failed report for a test case whose scenario never
// started, so that it still appears in every artifact.
func (a *Aggregator) RecordUnexecuted(id, feature, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.completed = append(a.completed, TestCaseReport{
		TestCaseID:  id,
		Description: id,
		FeatureFile: feature,
		StartTime:   now,
		EndTime:     now,
		Status:      StatusFail,
		Steps: []StepRecord{{
			StepNumber:  1,
			Description: "Scenario execution",
			Status:      StatusFail,
			Timestamp:   now,
			Detail:      reason,
		}},
		TotalSteps:  1,
		FailedSteps: 1,
	})
}

// Reports returns a copy of the closed test case reports in completion order.
func (a *Aggregator) Reports() []TestCaseReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TestCaseReport(nil), a.completed...)
}

// Summary builds the run summary from the closed test cases.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked()
}

func (a *Aggregator) summaryLocked() Summary {
	finished := a.now()
	s := Summary{
		Project:    a.cfg.ProjectName,
		Timestamp:  a.timestamp,
		StartedAt:  a.startedAt,
		FinishedAt: finished,
		Duration:   finished.Sub(a.startedAt),
		TestCases:  append([]TestCaseReport(nil), a.completed...),
	}
	// Test case counts are per id; step counts cover every report.
	byID := map[string]Status{}
	var order []string
	for _, tc := range a.completed {
		prev, seen := byID[tc.TestCaseID]
		if !seen {
			order = append(order, tc.TestCaseID)
		}
		byID[tc.TestCaseID] = worstStatus(prev, tc.Status)
		s.TotalSteps += tc.TotalSteps
		s.PassedSteps += tc.PassedSteps
		s.FailedSteps += tc.FailedSteps
	}
	for _, id := range order {
		s.Total++
		if byID[id] == StatusFail {
			s.Failed++
		} else {
			s.Passed++
		}
	}
	return s
}

// FinalizeReporting closes any open test case and writes every artifact of the run.
// Later calls return the artifacts of the first call.
func (a *Aggregator) FinalizeReporting(ctx context.Context) (*Artifacts, error) {
	a.mu.Lock()
	if a.finalized != nil {
		defer a.mu.Unlock()
		return a.finalized, nil
	}
	a.endLocked()
	summary := a.summaryLocked()
	a.mu.Unlock()

	artifacts, err := writeArtifacts(ctx, a.dir, a.cfg, summary)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.finalized = artifacts
	a.mu.Unlock()

	a.logger.Info("Reports written",
		zap.String("dir", a.dir),
		zap.String("html", artifacts.HTMLReport),
		zap.String("summary", artifacts.SummaryJSON))
	return artifacts, nil
}
