// File: cmd/logs.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

// logFilter selects entries of the JSON log file. Zero values match everything.
type logFilter struct {
	minLevel   zapcore.Level
	testCaseID string
}

type logEntry struct {
	Level      string `json:"level"`
	TestCaseID string `json:"test_case_id"`
}

func (f logFilter) match(line string) bool {
	if f.minLevel <= zapcore.DebugLevel && f.testCaseID == "" {
		return true
	}
	var e logEntry
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &e); err != nil {
		return false
	}
	if f.testCaseID != "" && e.TestCaseID != f.testCaseID {
		return false
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(e.Level))); err != nil {
		return false
	}
	return lvl >= f.minLevel
}

// newLogsCmd creates the `logs` command.
func newLogsCmd() *cobra.Command {
	var follow bool
	var level string
	var testCase string

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the BatchPilot log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Logger.LogFile == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}

			filter := logFilter{minLevel: zapcore.DebugLevel, testCaseID: testCase}
			if level != "" {
				if err := filter.minLevel.UnmarshalText([]byte(level)); err != nil {
					return fmt.Errorf("invalid level %q: %w", level, err)
				}
			}
			return runLogs(ctx, cfg.Logger.LogFile, cmd.OutOrStdout(), follow, filter)
		},
	}

	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries as they are written")
	logsCmd.Flags().StringVar(&level, "level", "", "Only show entries at or above this level")
	logsCmd.Flags().StringVar(&testCase, "test-case", "", "Only show entries for this test case id")
	return logsCmd
}

// runLogs copies matching lines of path to out. Without follow it returns at end of file;
// with follow it runs until ctx is cancelled.
func runLogs(ctx context.Context, path string, out io.Writer, follow bool, filter logFilter) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			// The tail goroutine may be blocked sending a line; drain until it closes Lines.
			t.Kill(nil)
			for range t.Lines {
			}
			_ = t.Wait()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read log file: %w", line.Err)
			}
			if filter.match(line.Text) {
				fmt.Fprintln(out, line.Text)
			}
		}
	}
}
