package runplan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Column names of the run plan.
const (
	ColumnTestCaseID  = "TestCaseID"
	ColumnFeatureFile = "FeatureFile"
	ColumnExecute     = "Execute"
)

var (
	// ErrSheetNotFound is returned when the run plan does not contain the requested sheet.
	ErrSheetNotFound = errors.New("run plan sheet not found")
	// ErrUnsupportedSource is returned for run plan files with an unknown extension.
	ErrUnsupportedSource = errors.New("unsupported run plan source")
)

// Row is one run plan record keyed by column name. Number is the 1-based row number
// in the underlying source, used for diagnostics.
type Row struct {
	Number int
	Values map[string]string
}

// Get returns the trimmed value of a column.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// RowSource reads the data rows of a named sheet, header excluded.
type RowSource interface {
	Rows(ctx context.Context, sheet string) ([]Row, error)
}

// OpenSource picks a RowSource implementation from the file extension.
func OpenSource(path string) (RowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return NewWorkbookSource(path), nil
	case ".yaml", ".yml":
		return NewYAMLSource(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, path)
	}
}

// Loader turns run plan rows into the ordered, de-duplicated list of entries to execute.
type Loader struct {
	source RowSource
	sheet  string
	logger *zap.Logger
}

// NewLoader creates a loader reading the given sheet from source.
func NewLoader(source RowSource, sheet string, logger *zap.Logger) *Loader {
	return &Loader{
		source: source,
		sheet:  sheet,
		logger: logger.Named("runplan"),
	}
}

// Load returns the selected entries in row order. A missing sheet or unreadable source
// is returned as an error; malformed and duplicate rows are logged and skipped.
func (l *Loader) Load(ctx context.Context) ([]TestCaseEntry, error) {
	rows, err := l.source.Rows(ctx, l.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read run plan sheet %q: %w", l.sheet, err)
	}

	seen := make(map[string]struct{}, len(rows))
	entries := make([]TestCaseEntry, 0, len(rows))

	for _, row := range rows {
		if !strings.EqualFold(row.Get(ColumnExecute), "Y") {
			continue
		}

		id := row.Get(ColumnTestCaseID)
		feature := row.Get(ColumnFeatureFile)
		if id == "" || feature == "" {
			l.logger.Warn("Skipping run plan row with missing required fields",
				zap.Int("row", row.Number),
				zap.String("test_case_id", id),
				zap.String("feature_file", feature),
			)
			continue
		}

		if _, dup := seen[id]; dup {
			l.logger.Warn("Duplicate test case id in run plan; keeping first occurrence",
				zap.Int("row", row.Number),
				zap.String("test_case_id", id),
			)
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, TestCaseEntry{TestCaseID: id, FeatureFile: feature})
	}

	l.logger.Info("Run plan loaded",
		zap.String("sheet", l.sheet),
		zap.Int("rows", len(rows)),
		zap.Int("selected", len(entries)),
	)
	return entries, nil
}
