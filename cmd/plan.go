// File: cmd/plan.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/batchpilot/internal/config"
	"github.com/xkilldash9x/batchpilot/internal/observability"
	"github.com/xkilldash9x/batchpilot/internal/runplan"
	"github.com/xkilldash9x/batchpilot/internal/scenario"
)

// newPlanCmd creates the `plan` command, a dry run of the grouping step.
func newPlanCmd() *cobra.Command {
	var format string

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the feature groups a run would execute, without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runPlan(ctx, cfg, observability.GetLogger(), cmd.OutOrStdout(), format)
		},
	}

	planCmd.Flags().String("plan", "", "Run plan workbook or YAML file (overrides run_plan.path)")
	planCmd.Flags().String("sheet", "", "Run plan sheet name (overrides run_plan.sheet)")
	planCmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table or yaml")
	return planCmd
}

func runPlan(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, format string) error {
	source, err := runplan.OpenSource(cfg.RunPlan.Path)
	if err != nil {
		return err
	}
	entries, err := runplan.NewLoader(source, cfg.RunPlan.Sheet, logger).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load run plan: %w", err)
	}
	groups := runplan.GroupByFeature(entries)

	switch strings.ToLower(format) {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(groups)
	case "table", "":
		renderPlan(out, groups)
		return nil
	default:
		return fmt.Errorf("unsupported plan format %q", format)
	}
}

func renderPlan(out io.Writer, groups []runplan.FeatureExecutionGroup) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Feature File", "Test Cases", "Tag Filter"})
	for i, g := range groups {
		t.AppendRow(table.Row{i + 1, g.FeatureFile, strings.Join(g.TestCaseIDs, ", "), scenario.BuildTagFilter(g.TestCaseIDs)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d test cases", runplan.CountTestCases(groups)), fmt.Sprintf("%d groups", len(groups))})
	t.Render()
}
