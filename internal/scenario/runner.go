// Package scenario runs the tagged scenarios of a feature file through an Executor.
package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/tccontext"
)

// TagMarker prefixes every scenario tag.
const TagMarker = "@"

// Request is one invocation of the external scenario runner.
type Request struct {
	// Glue names the registered step definitions to bind.
	Glue string
	// Tags is the filter expression, e.g. "@TC1 or @TC2". Empty runs every scenario.
	Tags string
	// FeaturePath is the absolute, slash-separated feature file path.
	FeaturePath string
}

// Executor runs scenarios and reports whether all of them passed.
type Executor interface {
	Execute(ctx context.Context, req Request) (bool, error)
}

// Runner executes feature files restricted to selected test cases.
type Runner struct {
	executor Executor
	holder   *tccontext.Holder
	cfg      config.ScenarioConfig
	baseDir  string
	logger   *zap.Logger
}

// NewRunner creates a runner. Relative feature paths that do not exist as given are
// looked up under baseDir.
func NewRunner(executor Executor, holder *tccontext.Holder, cfg config.ScenarioConfig, baseDir string, logger *zap.Logger) *Runner {
	return &Runner{
		executor: executor,
		holder:   holder,
		cfg:      cfg,
		baseDir:  baseDir,
		logger:   logger.Named("scenario"),
	}
}

// BuildTagFilter ORs the tags of ids together, adding the tag marker where it is missing.
func BuildTagFilter(ids []string) string {
	tags := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !strings.HasPrefix(id, TagMarker) {
			id = TagMarker + id
		}
		tags = append(tags, id)
	}
	return strings.Join(tags, " or ")
}

// RunFeatureWithTags runs only the scenarios of featureFile tagged with one of ids.
// An empty id list is refused and reported as a failure.
func (r *Runner) RunFeatureWithTags(ctx context.Context, featureFile string, ids []string) bool {
	filter := BuildTagFilter(ids)
	if filter == "" {
		r.logger.Error("Refusing to run feature without a test case filter",
			zap.String("feature_file", featureFile))
		return false
	}

	path, err := r.normalizePath(featureFile)
	if err != nil {
		r.logger.Error("Feature file not found", zap.String("feature_file", featureFile), zap.Error(err))
		return false
	}

	// Every id of the group is made visible before the run; the step hooks narrow it to
	// the scenario being executed.
	for _, id := range ids {
		ctx = r.holder.Set(ctx, id)
	}
	ctx = tccontext.WithGroup(ctx, ids)

	r.logger.Info("Running feature",
		zap.String("feature_file", path),
		zap.String("tags", filter),
		zap.Strings("test_case_ids", ids),
	)
	return r.execute(ctx, Request{Glue: r.cfg.Glue, Tags: filter, FeaturePath: path})
}

// RunFeature runs every scenario of featureFile.
//
// Deprecated: it cannot restrict execution to the selected test cases. Use RunFeatureWithTags.
func (r *Runner) RunFeature(ctx context.Context, featureFile string) bool {
	path, err := r.normalizePath(featureFile)
	if err != nil {
		r.logger.Error("Feature file not found", zap.String("feature_file", featureFile), zap.Error(err))
		return false
	}
	r.logger.Warn("Running feature without a tag filter; every scenario will execute",
		zap.String("feature_file", path))
	return r.execute(ctx, Request{Glue: r.cfg.Glue, FeaturePath: path})
}

func (r *Runner) execute(ctx context.Context, req Request) bool {
	ok, err := r.executor.Execute(ctx, req)
	if err != nil {
		r.logger.Error("Scenario execution failed", zap.String("feature_file", req.FeaturePath), zap.Error(err))
		return false
	}
	r.logger.Info("Feature execution completed",
		zap.String("feature_file", req.FeaturePath),
		zap.Bool("success", ok),
	)
	return ok
}

// normalizePath trims, resolves and slash-separates a feature path.
func (r *Runner) normalizePath(featureFile string) (string, error) {
	p := strings.TrimSpace(featureFile)
	if p == "" {
		return "", fmt.Errorf("empty feature file path")
	}
	p = filepath.FromSlash(strings.ReplaceAll(p, `\`, "/"))

	candidates := []string{p}
	if !filepath.IsAbs(p) && r.baseDir != "" {
		candidates = append(candidates, filepath.Join(r.baseDir, p))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(c)
			if err != nil {
				return "", err
			}
			return filepath.ToSlash(filepath.Clean(abs)), nil
		}
	}
	return "", fmt.Errorf("%s does not exist", p)
}
