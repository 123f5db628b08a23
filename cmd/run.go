// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/browser"
	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/observability"
	"github.com/xkilldash9x/batchpilot/internal/orchestrator"
	"github.com/xkilldash9x/batchpilot/internal/reporting"
	"github.com/xkilldash9x/batchpilot/internal/runplan"
	"github.com/xkilldash9x/batchpilot/internal/scenario"
	"github.com/xkilldash9x/batchpilot/internal/steps"
	"github.com/xkilldash9x/batchpilot/internal/tccontext"
	"github.com/xkilldash9x/batchpilot/internal/testdata"
	"github.com/xkilldash9x/batchpilot/internal/upload"
)

// runOptions carries the collaborators of a batch run that tests replace.
type runOptions struct {
	driverFactory browser.DriverFactory
	stores        storeProvider
	httpClient    *http.Client
	scenarioOut   io.Writer
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var noUpload bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute every test case flagged in the run plan",
		Long: `Loads the run plan, groups the selected test cases by feature file and runs each
group's tagged scenarios in a single shared browser session. Reports are written to one
timestamped folder and the result artifact is optionally uploaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if noUpload {
				cfg.Upload.Enabled = false
			}

			opts := runOptions{
				driverFactory: func(ctx context.Context) (browser.Driver, error) {
					return browser.NewChromeDriver(ctx, cfg.Browser, logger)
				},
				stores:      NewStoreProvider(),
				httpClient:  &http.Client{Timeout: cfg.Upload.RequestTimeout},
				scenarioOut: cmd.OutOrStdout(),
			}
			_, err = runBatch(ctx, cfg, logger, cmd.OutOrStdout(), opts)
			return err
		},
	}

	runCmd.Flags().String("plan", "", "Run plan workbook or YAML file (overrides run_plan.path)")
	runCmd.Flags().String("sheet", "", "Run plan sheet name (overrides run_plan.sheet)")
	runCmd.Flags().String("features-dir", "", "Directory feature paths are resolved against")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window")
	runCmd.Flags().String("screenshot-mode", "", "Screenshot policy: all, pass_fail, fail_only, none")
	runCmd.Flags().String("result-format", "", "Result artifact format: json, xml, none")
	runCmd.Flags().BoolVar(&noUpload, "no-upload", false, "Skip uploading the result artifact")

	return runCmd
}

// runBatch assembles the run components and executes one batch.
func runBatch(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, opts runOptions) (*orchestrator.Result, error) {
	source, err := runplan.OpenSource(cfg.RunPlan.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrConfiguration, err)
	}
	data, err := testdata.Load(cfg.TestData.Path, cfg.TestData.IDColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrConfiguration, err)
	}

	holder := tccontext.NewHolder()
	session := browser.NewSessionManager(opts.driverFactory, cfg.Browser.SettleDelay, logger)

	aggregator, err := reporting.NewAggregator(cfg.Reporting, session, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrConfiguration, err)
	}

	suite := steps.NewSuite(session, aggregator, testdata.NewResolver(data, holder), holder, logger)
	executor := scenario.NewGodogExecutor(cfg.Scenario, opts.scenarioOut, logger)
	executor.Register(steps.GlueName, suite.InitializeScenario)

	deps := orchestrator.Dependencies{
		Plan:     runplan.NewLoader(source, cfg.RunPlan.Sheet, logger),
		Session:  session,
		Runner:   scenario.NewRunner(executor, holder, cfg.Scenario, cfg.RunPlan.FeaturesDir, logger),
		Reporter: aggregator,
		Holder:   holder,
		Fatal:    suite,
	}
	if cfg.Upload.Enabled {
		deps.Uploader = upload.NewClient(cfg.Upload, opts.httpClient, logger)
	}
	if cfg.Database.URL != "" && opts.stores != nil {
		history, cleanup, err := opts.stores.Create(ctx, cfg)
		if err != nil {
			// History is optional; the batch still runs.
			logger.Warn("Run history disabled", zap.Error(err))
		} else {
			if cleanup != nil {
				defer cleanup()
			}
			deps.History = history
		}
	}

	orch, err := orchestrator.New(cfg, logger, deps, out)
	if err != nil {
		return nil, err
	}

	res, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrSessionFatal) {
			logger.Error("Batch aborted: browser session could not be recovered", zap.Error(err))
		}
		return res, err
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}
