// Package steps holds the web step definitions and the scenario hooks that connect the
// scenario runner to the batch session, test data and reporting.
package steps

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/browser"
	"github.com/xkilldash9x/batchpilot/internal/tccontext"
)

// GlueName is the registry name of the web step definitions.
const GlueName = "web"

// Session is the part of the batch session the steps need.
type Session interface {
	PrepareForNextTestCase(ctx context.Context, testCaseID string) error
	Driver() (browser.Driver, error)
}

// Recorder receives per-test-case results.
type Recorder interface {
	StartTest(id, name string)
	LogPass(ctx context.Context, name, detail string)
	LogFail(ctx context.Context, name, detail string)
	LogSkip(ctx context.Context, name, detail string)
	LogInfo(ctx context.Context, name, detail string)
	EndTest()
	ShareLast(ids ...string)
}

// DataResolver resolves test data references and stores runtime values.
type DataResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
	Store(ctx context.Context, key, value string)
}

// Suite binds steps and hooks to one batch run.
type Suite struct {
	session  Session
	recorder Recorder
	resolver DataResolver
	holder   *tccontext.Holder
	logger   *zap.Logger

	mu    sync.Mutex
	fatal error
}

// NewSuite creates the glue for one batch run.
func NewSuite(session Session, recorder Recorder, resolver DataResolver, holder *tccontext.Holder, logger *zap.Logger) *Suite {
	return &Suite{
		session:  session,
		recorder: recorder,
		resolver: resolver,
		holder:   holder,
		logger:   logger.Named("steps"),
	}
}

// Err returns the first fatal session error seen by a scenario hook.
func (s *Suite) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (s *Suite) setFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
}

// InitializeScenario registers hooks and step definitions. Its signature matches the
// scenario runner's step registrar.
func (s *Suite) InitializeScenario(sc *godog.ScenarioContext) {
	sc.Before(s.beforeScenario)
	sc.After(s.afterScenario)
	sc.StepContext().After(s.afterStep)

	sc.Step(`^I navigate to "([^"]*)"$`, s.navigate)
	sc.Step(`^I click "([^"]*)"$`, s.click)
	sc.Step(`^I type "([^"]*)" into "([^"]*)"$`, s.typeInto)
	sc.Step(`^I store the text of "([^"]*)" as "([^"]*)"$`, s.storeText)
	sc.Step(`^I store "([^"]*)" as "([^"]*)"$`, s.storeLiteral)
	sc.Step(`^the page title should be "([^"]*)"$`, s.assertTitle)
	sc.Step(`^the text of "([^"]*)" should be "([^"]*)"$`, s.assertText)
}

type sharedIDsKey struct{}

// scenarioTestCases picks the test case ids for a scenario: every tag that belongs to
// the running group, else the first tag, else the id already in scope. The first id owns
// the report; the others share it.
func (s *Suite) scenarioTestCases(ctx context.Context, sc *godog.Scenario) []string {
	group := tccontext.GroupFromContext(ctx)
	var first string
	var ids []string
	for _, tag := range sc.Tags {
		id := strings.TrimPrefix(tag.Name, "@")
		if first == "" {
			first = id
		}
		if slices.Contains(group, id) && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	switch {
	case len(ids) > 0:
		return ids
	case first != "":
		return []string{first}
	case s.holder.Get(ctx) != "":
		return []string{s.holder.Get(ctx)}
	default:
		return nil
	}
}

func (s *Suite) beforeScenario(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	ids := s.scenarioTestCases(ctx, sc)
	if len(ids) == 0 {
		return ctx, fmt.Errorf("scenario %q has no test case tag", sc.Name)
	}
	id := ids[0]
	ctx = s.holder.Set(ctx, id)
	if len(ids) > 1 {
		ctx = context.WithValue(ctx, sharedIDsKey{}, ids[1:])
	}

	if err := s.session.PrepareForNextTestCase(ctx, id); err != nil {
		if errors.Is(err, browser.ErrSessionFatal) {
			s.setFatal(err)
		}
		s.logger.Error("Could not prepare browser for test case", zap.String("test_case_id", id), zap.Error(err))
		s.recorder.StartTest(id, sc.Name)
		s.recorder.LogFail(ctx, "Prepare browser session", err.Error())
		return ctx, err
	}

	s.recorder.StartTest(id, sc.Name)
	s.logger.Info("Scenario started", zap.String("test_case_id", id), zap.String("scenario", sc.Name))
	return ctx, nil
}

func (s *Suite) afterStep(ctx context.Context, st *godog.Step, status godog.StepResultStatus, err error) (context.Context, error) {
	switch status {
	case godog.StepPassed:
		s.recorder.LogPass(ctx, st.Text, "")
	case godog.StepFailed:
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		s.recorder.LogFail(ctx, st.Text, detail)
	case godog.StepUndefined, godog.StepPending:
		s.recorder.LogFail(ctx, st.Text, "step is not implemented")
	default:
		s.recorder.LogSkip(ctx, st.Text, "")
	}
	return ctx, nil
}

func (s *Suite) afterScenario(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
	s.recorder.EndTest()
	if shared, ok := ctx.Value(sharedIDsKey{}).([]string); ok {
		s.recorder.ShareLast(shared...)
	}
	return ctx, nil
}

func (s *Suite) driver() (browser.Driver, error) {
	d, err := s.session.Driver()
	if err != nil {
		return nil, fmt.Errorf("browser unavailable: %w", err)
	}
	return d, nil
}

func (s *Suite) navigate(ctx context.Context, rawURL string) error {
	url, err := s.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}
	return d.Navigate(ctx, url)
}

func (s *Suite) click(ctx context.Context, selector string) error {
	d, err := s.driver()
	if err != nil {
		return err
	}
	return d.Click(ctx, selector)
}

func (s *Suite) typeInto(ctx context.Context, rawText, selector string) error {
	text, err := s.resolver.Resolve(ctx, rawText)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}
	return d.Type(ctx, selector, text)
}

func (s *Suite) storeText(ctx context.Context, selector, key string) error {
	d, err := s.driver()
	if err != nil {
		return err
	}
	text, err := d.Text(ctx, selector)
	if err != nil {
		return err
	}
	s.resolver.Store(ctx, key, strings.TrimSpace(text))
	s.recorder.LogInfo(ctx, "Stored value", fmt.Sprintf("%s = %s", key, strings.TrimSpace(text)))
	return nil
}

func (s *Suite) storeLiteral(ctx context.Context, rawValue, key string) error {
	value, err := s.resolver.Resolve(ctx, rawValue)
	if err != nil {
		return err
	}
	s.resolver.Store(ctx, key, value)
	return nil
}

func (s *Suite) assertTitle(ctx context.Context, rawExpected string) error {
	expected, err := s.resolver.Resolve(ctx, rawExpected)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}
	title, err := d.Title(ctx)
	if err != nil {
		return err
	}
	if title != expected {
		return fmt.Errorf("expected page title %q, got %q", expected, title)
	}
	return nil
}

func (s *Suite) assertText(ctx context.Context, selector, rawExpected string) error {
	expected, err := s.resolver.Resolve(ctx, rawExpected)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}
	text, err := d.Text(ctx, selector)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) != expected {
		return fmt.Errorf("expected text of %s to be %q, got %q", selector, expected, strings.TrimSpace(text))
	}
	return nil
}
