// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/batchpilot/internal/browser"
	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/store"
)

// writeFile creates dir/name with content and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// newTestConfig returns a valid configuration rooted in a temporary directory.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewDefaultConfig()
	cfg.Logger = config.LoggerConfig{Level: "fatal", Format: "json", ServiceName: "test"}
	cfg.RunPlan.Path = filepath.Join(dir, "plan.yaml")
	cfg.RunPlan.FeaturesDir = filepath.Join(dir, "features")
	cfg.Reporting.BaseDir = filepath.Join(dir, "reports")
	cfg.Reporting.ScreenshotMode = config.ScreenshotNone
	cfg.Browser.SettleDelay = 0
	cfg.Orchestrator.GroupDelay = 0
	cfg.Scenario.Format = "progress"
	return cfg
}

// executeCommand runs a fresh command tree with args and returns its combined output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// -- Fakes --

// fakeDriver is an in-memory browser. Page titles are looked up by the last visited URL.
type fakeDriver struct {
	mu      sync.Mutex
	titles  map[string]string
	current string
	typed   map[string]string
	clicks  []string
	clears  int
	quits   int
}

func newFakeDriver(titles map[string]string) *fakeDriver {
	return &fakeDriver{titles: titles, typed: map[string]string{}}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = url
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, selector)
	return nil
}

func (d *fakeDriver) Type(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed[selector] = text
	return nil
}

func (d *fakeDriver) Text(ctx context.Context, selector string) (string, error) {
	return "", nil
}

func (d *fakeDriver) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.titles[d.current], nil
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (d *fakeDriver) ClearState(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
	d.current = ""
	return nil
}

func (d *fakeDriver) State(ctx context.Context) (browser.StorageState, error) {
	return browser.StorageState{}, nil
}

func (d *fakeDriver) Quit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quits++
	return nil
}

type persistedRun struct {
	run     store.RunRecord
	results []store.TestCaseResult
}

// fakeStore records persisted runs and serves canned history.
type fakeStore struct {
	mu        sync.Mutex
	persisted []persistedRun
	runs      []store.RunRecord
	results   map[string][]store.TestCaseResult
	err       error
	limit     int
}

func (s *fakeStore) PersistRun(ctx context.Context, run store.RunRecord, results []store.TestCaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, persistedRun{run: run, results: results})
	return s.err
}

func (s *fakeStore) ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	return s.runs, s.err
}

func (s *fakeStore) GetRunResults(ctx context.Context, runID string) ([]store.TestCaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[runID], s.err
}

type fakeStoreProvider struct {
	store    *fakeStore
	err      error
	cleanups int
}

func (p *fakeStoreProvider) Create(ctx context.Context, cfg *config.Config) (runStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleanups++ }, nil
}
