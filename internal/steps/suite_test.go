package steps

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cucumber/godog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/browser"
	"github.com/xkilldash9x/batchpilot/internal/tccontext"
	"github.com/xkilldash9x/batchpilot/internal/testdata"
)

// -- Mock Implementations for Testing --

type fakeDriver struct {
	browser.Driver // unimplemented methods panic

	mu      sync.Mutex
	visited []string
	typed   map[string]string
	title   string
	texts   map[string]string
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visited = append(d.visited, url)
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error { return nil }

func (d *fakeDriver) Type(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed[selector] = text
	return nil
}

func (d *fakeDriver) Text(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.texts[selector]; ok {
		return t, nil
	}
	return "", errors.New("no such element: " + selector)
}

func (d *fakeDriver) Title(ctx context.Context) (string, error) { return d.title, nil }

type fakeSession struct {
	mu       sync.Mutex
	driver   *fakeDriver
	prepared []string
	err      error
}

func (s *fakeSession) PrepareForNextTestCase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = append(s.prepared, id)
	return s.err
}

func (s *fakeSession) Driver() (browser.Driver, error) { return s.driver, nil }

type event struct {
	kind, id, name, detail string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []event
}

func (r *fakeRecorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeRecorder) StartTest(id, name string) { r.add(event{kind: "start", id: id, name: name}) }
func (r *fakeRecorder) LogPass(ctx context.Context, name, detail string) {
	r.add(event{kind: "pass", name: name, detail: detail})
}
func (r *fakeRecorder) LogFail(ctx context.Context, name, detail string) {
	r.add(event{kind: "fail", name: name, detail: detail})
}
func (r *fakeRecorder) LogSkip(ctx context.Context, name, detail string) {
	r.add(event{kind: "skip", name: name})
}
func (r *fakeRecorder) LogInfo(ctx context.Context, name, detail string) {
	r.add(event{kind: "info", name: name, detail: detail})
}
func (r *fakeRecorder) EndTest() { r.add(event{kind: "end"}) }
func (r *fakeRecorder) ShareLast(ids ...string) {
	r.add(event{kind: "share", id: strings.Join(ids, ",")})
}

func (r *fakeRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

const shopFeature = `Feature: Shop

  @TC1
  Scenario: Login
    Given I navigate to "Env.BaseURL"
    When I type "Login.User" into "#user"
    Then the page title should be "Shop"

  @TC2
  Scenario: Order
    Given I store the text of "#order" as "orderId"
    Then the text of "#confirm" should be "${orderId}"

  @TC3
  Scenario: Broken
    Then the page title should be "Admin"

  @TC4 @TC5
  Scenario: Shared
    Then the page title should be "Shop"
`

type fixture struct {
	suite    *Suite
	session  *fakeSession
	recorder *fakeRecorder
	holder   *tccontext.Holder
	path     string
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shop.feature")
	require.NoError(t, os.WriteFile(path, []byte(shopFeature), 0o644))

	store := testdata.NewStore()
	store.PutStatic("Env", "TC1", "BaseURL", "https://shop.test")
	store.PutStatic("Login", "TC1", "User", "alice")

	holder := tccontext.NewHolder()
	session := &fakeSession{driver: &fakeDriver{
		typed: map[string]string{},
		title: "Shop",
		texts: map[string]string{"#order": " 42 ", "#confirm": "42"},
	}}
	recorder := &fakeRecorder{}
	suite := NewSuite(session, recorder, testdata.NewResolver(store, holder), holder, zap.NewNop())
	return &fixture{suite: suite, session: session, recorder: recorder, holder: holder, path: path}
}

func (f *fixture) run(t *testing.T, tags string, group ...string) int {
	t.Helper()
	ctx := tccontext.WithGroup(context.Background(), group)
	return godog.TestSuite{
		Name:                "steps",
		ScenarioInitializer: f.suite.InitializeScenario,
		Options: &godog.Options{
			Format:         "progress",
			Paths:          []string{f.path},
			Tags:           tags,
			Strict:         true,
			Output:         &bytes.Buffer{},
			DefaultContext: ctx,
		},
	}.Run()
}

// -- Test Cases --

func TestSuite_PassingScenario(t *testing.T) {
	f := setupTest(t)

	status := f.run(t, "@TC1", "TC1")
	require.Equal(t, 0, status)

	assert.Equal(t, []string{"TC1"}, f.session.prepared)
	assert.Equal(t, []string{"https://shop.test"}, f.session.driver.visited)
	assert.Equal(t, "alice", f.session.driver.typed["#user"])
	assert.Equal(t, []string{"start", "pass", "pass", "pass", "end"}, f.recorder.kinds())
	assert.Equal(t, "TC1", f.recorder.events[0].id)
	assert.Equal(t, "TC1", f.holder.Get(context.Background()))
	assert.NoError(t, f.suite.Err())
}

func TestSuite_RuntimeValues(t *testing.T) {
	f := setupTest(t)

	status := f.run(t, "@TC2", "TC2")
	require.Equal(t, 0, status)
	assert.Contains(t, f.recorder.kinds(), "info")
}

func TestSuite_FailingAssertion(t *testing.T) {
	f := setupTest(t)

	status := f.run(t, "@TC3", "TC3")
	assert.Equal(t, 1, status)

	var failed *event
	for i, e := range f.recorder.events {
		if e.kind == "fail" {
			failed = &f.recorder.events[i]
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.detail, `expected page title "Admin", got "Shop"`)
}

func TestSuite_GroupSelection(t *testing.T) {
	f := setupTest(t)

	status := f.run(t, "@TC1,@TC2", "TC1", "TC2")
	require.Equal(t, 0, status)
	assert.Equal(t, []string{"TC1", "TC2"}, f.session.prepared)
}

func TestSuite_SharedScenario(t *testing.T) {
	t.Run("every selected tag shares the report", func(t *testing.T) {
		f := setupTest(t)

		status := f.run(t, "@TC4,@TC5", "TC4", "TC5")
		require.Equal(t, 0, status)
		assert.Equal(t, []string{"TC4"}, f.session.prepared, "the scenario runs once")
		assert.Equal(t, []string{"start", "pass", "end", "share"}, f.recorder.kinds())
		assert.Equal(t, "TC4", f.recorder.events[0].id)
		assert.Equal(t, "TC5", f.recorder.events[3].id)
	})

	t.Run("only selected tags are used", func(t *testing.T) {
		f := setupTest(t)

		status := f.run(t, "@TC5", "TC5")
		require.Equal(t, 0, status)
		assert.Equal(t, []string{"start", "pass", "end"}, f.recorder.kinds())
		assert.Equal(t, "TC5", f.recorder.events[0].id)
	})
}

func TestSuite_FatalSessionError(t *testing.T) {
	f := setupTest(t)
	f.session.err = errors.Join(browser.ErrSessionFatal, errors.New("chrome gone"))

	status := f.run(t, "@TC1", "TC1")
	assert.NotEqual(t, 0, status)
	assert.ErrorIs(t, f.suite.Err(), browser.ErrSessionFatal)
	assert.Empty(t, f.session.driver.visited)
}
