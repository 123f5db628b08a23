package scenario

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

// StepRegistrar binds step definitions and hooks to a scenario.
type StepRegistrar func(sc *godog.ScenarioContext)

// GodogExecutor runs feature files in-process with godog.
type GodogExecutor struct {
	cfg    config.ScenarioConfig
	output io.Writer
	logger *zap.Logger

	mu   sync.RWMutex
	glue map[string]StepRegistrar
}

// NewGodogExecutor creates an executor writing formatter output to output (stdout when nil).
func NewGodogExecutor(cfg config.ScenarioConfig, output io.Writer, logger *zap.Logger) *GodogExecutor {
	if output == nil {
		output = os.Stdout
	}
	return &GodogExecutor{
		cfg:    cfg,
		output: output,
		logger: logger.Named("godog"),
		glue:   make(map[string]StepRegistrar),
	}
}

// Register makes a set of step definitions available under name.
func (e *GodogExecutor) Register(name string, registrar StepRegistrar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.glue[name] = registrar
}

// Execute implements Executor. godog status 0 is success, 1 is a failed scenario and
// anything else is an invalid invocation.
func (e *GodogExecutor) Execute(ctx context.Context, req Request) (bool, error) {
	e.mu.RLock()
	registrar, ok := e.glue[req.Glue]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no step definitions registered as %q", req.Glue)
	}

	format := e.cfg.Format
	if format == "" {
		format = "pretty"
	}

	suite := godog.TestSuite{
		Name:                filepath.Base(req.FeaturePath),
		ScenarioInitializer: registrar,
		Options: &godog.Options{
			Format:         format,
			Paths:          []string{req.FeaturePath},
			Tags:           godogTags(req.Tags),
			Strict:         e.cfg.Strict,
			Concurrency:    1,
			Output:         e.output,
			DefaultContext: ctx,
		},
	}

	e.logger.Debug("Starting godog suite",
		zap.String("feature", req.FeaturePath),
		zap.String("tags", suite.Options.Tags))

	switch status := suite.Run(); status {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("scenario runner exited with status %d", status)
	}
}

// godogTags rewrites a "@a or @b" expression into godog's "@a,@b" syntax.
func godogTags(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	andParts := strings.Split(expr, " and ")
	out := make([]string, 0, len(andParts))
	for _, part := range andParts {
		orParts := strings.Split(part, " or ")
		tags := make([]string, 0, len(orParts))
		for _, tag := range orParts {
			tag = strings.TrimSpace(tag)
			if rest, ok := strings.CutPrefix(tag, "not "); ok {
				tag = "~" + strings.TrimSpace(rest)
			}
			tags = append(tags, tag)
		}
		out = append(out, strings.Join(tags, ","))
	}
	return strings.Join(out, " && ")
}
