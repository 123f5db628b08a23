// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/observability"
	"github.com/xkilldash9x/batchpilot/internal/store"
)

// runStore is the run-history surface used by the commands.
type runStore interface {
	PersistRun(ctx context.Context, run store.RunRecord, results []store.TestCaseResult) error
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
	GetRunResults(ctx context.Context, runID string) ([]store.TestCaseResult, error)
}

// storeProvider creates the run-history store. Tests inject a provider returning a mock
// instead of connecting to PostgreSQL.
type storeProvider interface {
	// Create returns the store, a cleanup function releasing its resources, and an error.
	Create(ctx context.Context, cfg *config.Config) (runStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to database.url, makes sure the schema exists and returns the store
// with a cleanup that closes the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (BATCHPILOT_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// newHistoryCmd creates the `history` command.
func newHistoryCmd(provider storeProvider) *cobra.Command {
	var runID string
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent batch runs, or the test case results of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runHistory(ctx, cfg, observability.GetLogger(), cmd.OutOrStdout(), provider, runID, limit)
		},
	}

	historyCmd.Flags().StringVar(&runID, "run-id", "", "Show the per-test-case results of this run")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return historyCmd
}

func runHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, provider storeProvider, runID string, limit int) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if runID != "" {
		results, err := st.GetRunResults(ctx, runID)
		if err != nil {
			return err
		}
		logger.Debug("Loaded run results", zap.String("run_id", runID), zap.Int("count", len(results)))
		renderResults(out, runID, results)
		return nil
	}

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	renderRuns(out, runs)
	return nil
}

func renderRuns(out io.Writer, runs []store.RunRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run ID", "Project", "Started", "Duration", "Total", "Passed", "Failed", "Upload"})
	for _, r := range runs {
		upload := r.UploadPhase
		if upload == "" {
			upload = "-"
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Project,
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.Total,
			r.Passed,
			r.Failed,
			upload,
		})
	}
	if len(runs) == 0 {
		t.AppendRow(table.Row{"no runs recorded"})
	}
	t.Render()
}

func renderResults(out io.Writer, runID string, results []store.TestCaseResult) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run " + runID)
	t.AppendHeader(table.Row{"Test Case", "Feature", "Status", "Steps", "Failure"})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.TestCaseID,
			r.FeatureFile,
			r.Status,
			fmt.Sprintf("%d/%d", r.PassedSteps, r.TotalSteps),
			r.FailureDetail,
		})
	}
	t.Render()
}
