// File: internal/orchestrator/orchestrator.go
// Description: Drives one batch run. It is injected with the plan loader, batch session,
// scenario runner, report aggregator, upload client and history store via interfaces.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/reporting"
	"github.com/xkilldash9x/batchpilot/internal/runplan"
	"github.com/xkilldash9x/batchpilot/internal/store"
	"github.com/xkilldash9x/batchpilot/internal/tccontext"
	"github.com/xkilldash9x/batchpilot/internal/upload"
)

// ErrConfiguration marks failures that abort a run before any test case executes.
var ErrConfiguration = errors.New("configuration error")

// PlanLoader yields the entries selected for execution.
type PlanLoader interface {
	Load(ctx context.Context) ([]runplan.TestCaseEntry, error)
}

// BatchSession brackets the batch with one browser session.
type BatchSession interface {
	StartBatchSession(ctx context.Context) error
	EndBatchSession(ctx context.Context)
}

// FeatureRunner executes the tagged scenarios of one feature file.
type FeatureRunner interface {
	RunFeatureWithTags(ctx context.Context, featureFile string, ids []string) bool
}

// Reporter aggregates results and writes the run artifacts.
type Reporter interface {
	SetFeature(feature string)
	Outcome(id string) (reporting.Status, bool)
	RecordUnexecuted(id, feature, reason string)
	FinalizeReporting(ctx context.Context) (*reporting.Artifacts, error)
	Summary() reporting.Summary
	Dir() string
}

// Uploader submits the result artifact.
type Uploader interface {
	Upload(ctx context.Context, path string) (*upload.Job, error)
}

// HistoryStore persists the run.
type HistoryStore interface {
	PersistRun(ctx context.Context, run store.RunRecord, results []store.TestCaseResult) error
}

// FatalSource reports a fatal error raised inside scenario execution.
type FatalSource interface {
	Err() error
}

// Dependencies groups the collaborators of a run. Uploader, History and Fatal are optional.
type Dependencies struct {
	Plan     PlanLoader
	Session  BatchSession
	Runner   FeatureRunner
	Reporter Reporter
	Holder   *tccontext.Holder
	Uploader Uploader
	History  HistoryStore
	Fatal    FatalSource
}

// Result is the outcome of one batch run.
type Result struct {
	RunID      string
	Groups     int
	Successful int
	Failed     int
	Elapsed    time.Duration
	Artifacts  *reporting.Artifacts
	UploadJob  *upload.Job
}

// Orchestrator runs the batch: one session, one group per feature file, then reports,
// upload and history.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Dependencies
	out    io.Writer
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator. out receives the end-of-run summary table.
func New(cfg *config.Config, logger *zap.Logger, deps Dependencies, out io.Writer) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		deps.Plan == nil ||
		deps.Session == nil ||
		deps.Runner == nil ||
		deps.Reporter == nil ||
		deps.Holder == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if out == nil {
		out = io.Discard
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		deps:   deps,
		out:    out,
		sleep:  sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the batch. Only configuration errors and fatal session errors are returned;
// failed test cases and upload problems are reported in the Result and the logs.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	log := o.logger.With(zap.String("run_id", res.RunID))

	// 1. Load and group the plan. Nothing runs if this fails.
	entries, err := o.deps.Plan.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	groups := runplan.GroupByFeature(entries)
	res.Groups = len(groups)
	log.Info("Batch run starting",
		zap.Int("test_cases", len(entries)),
		zap.Int("feature_groups", len(groups)))

	// 2. Start the single browser session for the whole batch.
	if err := o.deps.Session.StartBatchSession(ctx); err != nil {
		return nil, err
	}
	sessionOpen := true
	endSession := func() {
		if sessionOpen {
			o.deps.Session.EndBatchSession(context.WithoutCancel(ctx))
			o.deps.Holder.Clear()
			sessionOpen = false
		}
	}
	defer endSession()

	// 3. Execute groups sequentially in run-plan order.
	fatalErr := o.runGroups(ctx, log, groups, res)
	endSession()

	// 4. Reports, summary, upload and history happen regardless of test outcomes.
	o.finish(ctx, log, start, res)

	if fatalErr != nil {
		return res, fatalErr
	}
	return res, nil
}

func (o *Orchestrator) runGroups(ctx context.Context, log *zap.Logger, groups []runplan.FeatureExecutionGroup, res *Result) error {
	for i, g := range groups {
		if ctx.Err() != nil {
			log.Warn("Batch interrupted; remaining groups not executed", zap.Int("remaining", len(groups)-i))
			return nil
		}

		glog := log.With(zap.String("feature", g.FeatureFile), zap.Strings("test_case_ids", g.TestCaseIDs))
		glog.Info("Executing feature group", zap.Int("group", i+1), zap.Int("of", len(groups)))

		o.deps.Reporter.SetFeature(g.FeatureFile)
		ok := o.deps.Runner.RunFeatureWithTags(ctx, g.FeatureFile, g.TestCaseIDs)
		o.tally(g, ok, res)

		if o.deps.Fatal != nil {
			if err := o.deps.Fatal.Err(); err != nil {
				glog.Error("Fatal browser session error; aborting batch", zap.Error(err))
				return err
			}
		}
		if !ok {
			glog.Warn("Feature group reported failures")
		}

		if i < len(groups)-1 {
			if err := o.sleep(ctx, o.cfg.Orchestrator.GroupDelay); err != nil {
				log.Warn("Batch interrupted between groups", zap.Error(err))
				return nil
			}
		}
	}
	return nil
}

// tally counts every id of the group. Ids with a report use its status; ids whose
// scenario never produced a report are recorded as failed.
func (o *Orchestrator) tally(g runplan.FeatureExecutionGroup, groupOK bool, res *Result) {
	for _, id := range g.TestCaseIDs {
		status, found := o.deps.Reporter.Outcome(id)
		if !found {
			reason := fmt.Sprintf("no scenario tagged @%s was executed", id)
			if !groupOK {
				reason = "feature execution failed before the scenario started"
			}
			o.deps.Reporter.RecordUnexecuted(id, g.FeatureFile, reason)
			res.Failed++
			continue
		}
		if status == reporting.StatusFail {
			res.Failed++
		} else {
			res.Successful++
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, start time.Time, res *Result) {
	// Artifacts are still written after an interrupt.
	finishCtx := context.WithoutCancel(ctx)

	artifacts, err := o.deps.Reporter.FinalizeReporting(finishCtx)
	if err != nil {
		log.Error("Failed to write reports", zap.Error(err))
	}
	res.Artifacts = artifacts
	res.Elapsed = time.Since(start)

	summary := o.deps.Reporter.Summary()
	reporting.RenderSummary(o.out, summary, o.deps.Reporter.Dir())
	log.Info("Batch run finished",
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
		zap.String("reports", o.deps.Reporter.Dir()))

	if o.deps.Uploader != nil && artifacts != nil && artifacts.ResultArtifact != "" && ctx.Err() == nil {
		job, err := o.deps.Uploader.Upload(ctx, artifacts.ResultArtifact)
		res.UploadJob = job
		if err != nil {
			log.Error("Result upload did not complete", zap.Error(err))
		}
	}

	if o.deps.History != nil {
		run, results := historyRecords(res, summary, o.deps.Reporter.Dir())
		if err := o.deps.History.PersistRun(finishCtx, run, results); err != nil {
			log.Error("Failed to store run history", zap.Error(err))
		}
	}
}
