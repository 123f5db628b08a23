package runplan

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// WorkbookSource reads run plan rows from an Excel workbook.
type WorkbookSource struct {
	path string
}

// NewWorkbookSource creates a source for the workbook at path.
func NewWorkbookSource(path string) *WorkbookSource {
	return &WorkbookSource{path: path}
}

// Rows implements RowSource. The first row is the header; when it names the run plan
// columns they are mapped by name, otherwise columns 0, 1 and 2 are used.
func (s *WorkbookSource) Rows(ctx context.Context, sheet string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", s.path, err)
	}
	defer f.Close()

	name, ok := findSheet(f.GetSheetList(), sheet)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, sheet, s.path)
	}

	cells, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}
	return rowsFromCells(cells), nil
}

// findSheet matches a sheet name case-insensitively.
func findSheet(sheets []string, want string) (string, bool) {
	for _, s := range sheets {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(want)) {
			return s, true
		}
	}
	return "", false
}

// rowsFromCells converts a raw cell grid (header first) into Rows.
func rowsFromCells(cells [][]string) []Row {
	if len(cells) == 0 {
		return nil
	}

	columns := headerColumns(cells[0])
	rows := make([]Row, 0, len(cells)-1)
	for i, cellRow := range cells[1:] {
		values := make(map[string]string, len(columns))
		for name, idx := range columns {
			if idx < len(cellRow) {
				values[name] = cellRow[idx]
			}
		}
		// Row numbers are 1-based and the header occupies row 1.
		rows = append(rows, Row{Number: i + 2, Values: values})
	}
	return rows
}

func headerColumns(header []string) map[string]int {
	columns := map[string]int{
		ColumnTestCaseID:  0,
		ColumnFeatureFile: 1,
		ColumnExecute:     2,
	}
	for idx, cell := range header {
		normalized := strings.ReplaceAll(strings.TrimSpace(cell), " ", "")
		for name := range columns {
			if strings.EqualFold(normalized, name) {
				columns[name] = idx
			}
		}
	}
	return columns
}
