// File: internal/reporting/aggregator_test.go
package reporting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

// -- Test Helpers --

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

type fakeShooter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeShooter) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("\x89PNG"), nil
}

func newTestAggregator(t *testing.T, mode string, shooter Screenshotter) (*Aggregator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)}
	cfg := config.ReportingConfig{
		BaseDir:        t.TempDir(),
		ProjectName:    "Shop",
		ScreenshotMode: mode,
		ResultFormat:   config.ResultFormatJSON,
		Metrics:        true,
	}
	a, err := newAggregator(cfg, shooter, zap.NewNop(), clock.Now)
	require.NoError(t, err)
	return a, clock
}

// -- Test Cases --

func TestNewAggregator_Directory(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)

	assert.Equal(t, "2024-03-09_14-05-07", a.Timestamp())
	assert.Equal(t, "2024-03-09_14-05-07", filepath.Base(a.Dir()))
	info, err := os.Stat(filepath.Join(a.Dir(), ScreenshotsDirName))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAggregator_StepNumbering(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)
	ctx := context.Background()

	a.StartTest("TC1", "Login")
	a.LogInfo(ctx, "open", "")
	a.LogPass(ctx, "submit", "")
	a.LogWarning(ctx, "slow", "")
	a.EndTest()

	a.StartTest("TC2", "Cart")
	a.LogPass(ctx, "add", "")
	a.EndTest()

	reports := a.Reports()
	require.Len(t, reports, 2)
	var numbers []int
	for _, s := range reports[0].Steps {
		numbers = append(numbers, s.StepNumber)
	}
	assert.Equal(t, []int{1, 2, 3}, numbers)
	assert.Equal(t, 1, reports[1].Steps[0].StepNumber, "numbering resets per test case")
}

func TestAggregator_StatusDerivation(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)
	ctx := context.Background()

	a.StartTest("TC1", "fails once")
	a.LogPass(ctx, "a", "")
	a.LogFail(ctx, "b", "element not found")
	a.LogPass(ctx, "c", "")
	a.EndTest()

	a.StartTest("TC2", "no failures")
	a.LogInfo(ctx, "a", "")
	a.LogSkip(ctx, "b", "")
	a.EndTest()

	reports := a.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, StatusFail, reports[0].Status)
	assert.Equal(t, 3, reports[0].TotalSteps)
	assert.Equal(t, 2, reports[0].PassedSteps)
	assert.Equal(t, 1, reports[0].FailedSteps)
	assert.Equal(t, StatusPass, reports[1].Status)
	assert.Equal(t, 4*time.Second, reports[0].Duration)

	s := a.Summary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Failed)
}

func TestAggregator_ScreenshotPolicy(t *testing.T) {
	tests := []struct {
		mode   string
		status Status
		want   bool
	}{
		{config.ScreenshotAll, StatusPass, true},
		{config.ScreenshotAll, StatusFail, true},
		{config.ScreenshotAll, StatusInfo, false},
		{config.ScreenshotPassFail, StatusPass, true},
		{config.ScreenshotFailOnly, StatusPass, false},
		{config.ScreenshotFailOnly, StatusFail, true},
		{config.ScreenshotNone, StatusFail, false},
		{"ALL", StatusPass, true},
		{config.ScreenshotAll, StatusWarning, false},
		{config.ScreenshotAll, StatusSkip, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode+"/"+string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, shouldCapture(tt.mode, tt.status))
		})
	}
}

func TestAggregator_Screenshots(t *testing.T) {
	t.Run("should write named screenshots for captured steps", func(t *testing.T) {
		shooter := &fakeShooter{}
		a, _ := newTestAggregator(t, config.ScreenshotFailOnly, shooter)
		ctx := context.Background()

		a.StartTest("TC9", "checkout")
		a.LogPass(ctx, "ok", "")
		a.LogFail(ctx, "broken", "boom")
		a.EndTest()

		assert.Equal(t, 1, shooter.calls)
		step := a.Reports()[0].Steps[1]
		require.NotEmpty(t, step.ScreenshotRef)
		assert.Regexp(t, `^Screenshots/TC9_Step2_\d{8}_\d{6}\.png$`, step.ScreenshotRef)
		_, err := os.Stat(filepath.Join(a.Dir(), filepath.FromSlash(step.ScreenshotRef)))
		assert.NoError(t, err)
	})

	t.Run("should keep the step when capture fails", func(t *testing.T) {
		shooter := &fakeShooter{err: errors.New("no session")}
		a, _ := newTestAggregator(t, config.ScreenshotAll, shooter)

		a.StartTest("TC1", "x")
		a.LogFail(context.Background(), "broken", "")
		a.EndTest()

		step := a.Reports()[0].Steps[0]
		assert.Empty(t, step.ScreenshotRef)
		assert.Equal(t, StatusFail, step.Status)
	})
}

func TestScreenshotName(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "TC1_Step3_20240102_030405.png", ScreenshotName("TC1", 3, at))
}

func TestAggregator_RepeatedTestCase(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)
	ctx := context.Background()

	// Two examples of one outline share the id; the first fails.
	a.StartTest("TC1", "example 1")
	a.LogFail(ctx, "Then the total is shown", "expected 10")
	a.EndTest()
	a.StartTest("TC1", "example 2")
	a.LogPass(ctx, "Then the total is shown", "")

	status, ok := a.Outcome("TC1")
	require.True(t, ok)
	assert.Equal(t, StatusFail, status, "open passing example does not mask the earlier failure")
	a.EndTest()

	a.StartTest("TC2", "only example")
	a.LogPass(ctx, "a", "")
	a.EndTest()

	status, _ = a.Outcome("TC1")
	assert.Equal(t, StatusFail, status)

	s := a.Summary()
	assert.Len(t, s.TestCases, 3)
	assert.Equal(t, 2, s.Total, "test cases are counted once per id")
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.TotalSteps)
}

func TestAggregator_ShareLast(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)
	ctx := context.Background()

	a.ShareLast("TC9")
	assert.Empty(t, a.Reports(), "nothing to share before a test closes")

	a.StartTest("TC1", "Checkout")
	a.LogFail(ctx, "pay", "declined")
	a.EndTest()
	a.ShareLast("TC1", "TC2")

	reports := a.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "TC2", reports[1].TestCaseID)
	assert.Equal(t, "Checkout", reports[1].Description)
	assert.Equal(t, StatusFail, reports[1].Status)
	assert.Equal(t, "declined", reports[1].Steps[0].Detail)

	status, ok := a.Outcome("TC2")
	require.True(t, ok)
	assert.Equal(t, StatusFail, status)
}

func TestAggregator_EdgeCases(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)
	ctx := context.Background()

	// Steps outside a test case are dropped.
	a.LogPass(ctx, "orphan", "")
	a.EndTest()
	assert.Empty(t, a.Reports())

	// Starting a new test closes the open one.
	a.StartTest("TC1", "first")
	a.LogPass(ctx, "a", "")
	a.StartTest("TC2", "second")
	a.EndTest()
	require.Len(t, a.Reports(), 2)
	assert.True(t, a.HasReport("TC1"))
	assert.False(t, a.HasReport("TC3"))
	status, ok := a.Outcome("TC2")
	assert.True(t, ok)
	assert.Equal(t, StatusPass, status)

	a.RecordUnexecuted("TC3", "features/missing.feature", "feature file not found")
	reports := a.Reports()
	require.Len(t, reports, 3)
	assert.Equal(t, StatusFail, reports[2].Status)
	assert.Equal(t, "feature file not found", reports[2].Steps[0].Detail)
}

func TestAggregator_FinalizeReporting(t *testing.T) {
	a, _ := newTestAggregator(t, config.ScreenshotNone, nil)
	ctx := context.Background()

	a.SetFeature("features/login.feature")
	a.StartTest("TC1", "Login works")
	a.LogPass(ctx, "open page", "")
	// Left open on purpose: finalize must close it.

	artifacts, err := a.FinalizeReporting(ctx)
	require.NoError(t, err)

	for _, p := range []string{artifacts.HTMLReport, artifacts.ExcelReport, artifacts.SummaryJSON, artifacts.JUnitXML, artifacts.CucumberJSON, artifacts.Metrics} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
		assert.Equal(t, a.Dir(), filepath.Dir(p), "all artifacts share the run directory")
	}
	assert.Equal(t, filepath.Join(a.Dir(), "Shop_Report_2024-03-09_14-05-07.html"), artifacts.HTMLReport)
	assert.Equal(t, filepath.Join(a.Dir(), "ExecutionSummary_2024-03-09_14-05-07.json"), artifacts.SummaryJSON)
	assert.Equal(t, artifacts.CucumberJSON, artifacts.ResultArtifact)

	require.Len(t, a.Reports(), 1)
	assert.Equal(t, "features/login.feature", a.Reports()[0].FeatureFile)

	again, err := a.FinalizeReporting(ctx)
	require.NoError(t, err)
	assert.Same(t, artifacts, again)
}
