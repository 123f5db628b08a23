package reporting

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const (
	excelSummarySheet = "Summary"
	excelDetailsSheet = "Details"
	excelTimeLayout   = "2006-01-02 15:04:05"
)

var (
	excelSummaryHeader = []interface{}{"Test ID", "Scenario Name", "Start Time", "End Time", "Status", "Total Steps", "Passed Steps", "Failed Steps", "Duration (sec)"}
	excelDetailsHeader = []interface{}{"Test ID", "Step #", "Step Description", "Status", "Timestamp", "Details/Error", "Screenshot Path"}
)

type excelStyles struct {
	header, pass, fail, info int
}

func newExcelStyles(f *excelize.File) (excelStyles, error) {
	var s excelStyles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#1F4E78"}},
	}); err != nil {
		return s, err
	}
	if s.pass, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "#2E7D32"}}); err != nil {
		return s, err
	}
	if s.fail, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "#C62828"}}); err != nil {
		return s, err
	}
	s.info, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "#1565C0"}})
	return s, err
}

func (s excelStyles) forStatus(st Status) int {
	switch st {
	case StatusPass:
		return s.pass
	case StatusFail:
		return s.fail
	default:
		return s.info
	}
}

// buildExcel renders the execution report workbook: a Summary sheet with one row per
// test case and the project totals below it, and a Details sheet with one row per step.
func buildExcel(s Summary) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), excelSummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(excelDetailsSheet); err != nil {
		f.Close()
		return nil, err
	}
	styles, err := newExcelStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := writeExcelSummary(f, styles, s); err != nil {
		f.Close()
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeExcelDetails(f, styles, s); err != nil {
		f.Close()
		return nil, fmt.Errorf("details sheet: %w", err)
	}
	return f, nil
}

func writeExcelHeader(f *excelize.File, sheet string, header []interface{}, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeExcelSummary(f *excelize.File, styles excelStyles, s Summary) error {
	sheet := excelSummarySheet
	if err := writeExcelHeader(f, sheet, excelSummaryHeader, styles.header); err != nil {
		return err
	}

	row := 2
	for _, tc := range s.TestCases {
		values := []interface{}{
			tc.TestCaseID,
			tc.Description,
			tc.StartTime.Format(excelTimeLayout),
			tc.EndTime.Format(excelTimeLayout),
			string(tc.Status),
			tc.TotalSteps,
			tc.PassedSteps,
			tc.FailedSteps,
			tc.Duration.Seconds(),
		}
		if err := f.SetSheetRow(sheet, "A"+strconv.Itoa(row), &values); err != nil {
			return err
		}
		statusCell := "E" + strconv.Itoa(row)
		if err := f.SetCellStyle(sheet, statusCell, statusCell, styles.forStatus(tc.Status)); err != nil {
			return err
		}
		row++
	}

	// Project totals follow the test rows after one blank row.
	row++
	totals := [][]interface{}{
		{"Project Summary"},
		{"Project Name", s.Project},
		{"Execution Date", s.StartedAt.Format(excelTimeLayout)},
		{"Tests Executed", s.Total},
		{"Tests Passed", s.Passed},
		{"Tests Failed", s.Failed},
	}
	for i, values := range totals {
		cell := "A" + strconv.Itoa(row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		if i == 0 {
			if err := f.SetCellStyle(sheet, cell, cell, styles.header); err != nil {
				return err
			}
		}
		row++
	}
	return f.SetColWidth(sheet, "A", "I", 18)
}

func writeExcelDetails(f *excelize.File, styles excelStyles, s Summary) error {
	sheet := excelDetailsSheet
	if err := writeExcelHeader(f, sheet, excelDetailsHeader, styles.header); err != nil {
		return err
	}

	row := 2
	for _, tc := range s.TestCases {
		if len(tc.Steps) == 0 {
			values := []interface{}{tc.TestCaseID, 0, "No steps executed", string(StatusInfo), "N/A", "Test case had no steps", "N/A"}
			if err := f.SetSheetRow(sheet, "A"+strconv.Itoa(row), &values); err != nil {
				return err
			}
			row++
			continue
		}
		for _, step := range tc.Steps {
			shot := step.ScreenshotRef
			if shot == "" {
				shot = "N/A"
			}
			values := []interface{}{
				tc.TestCaseID,
				step.StepNumber,
				step.Description,
				string(step.Status),
				step.Timestamp.Format(excelTimeLayout),
				step.Detail,
				shot,
			}
			r := strconv.Itoa(row)
			if err := f.SetSheetRow(sheet, "A"+r, &values); err != nil {
				return err
			}
			if err := f.SetCellStyle(sheet, "D"+r, "D"+r, styles.forStatus(step.Status)); err != nil {
				return err
			}
			if step.ScreenshotRef != "" {
				if err := f.SetCellHyperLink(sheet, "G"+r, step.ScreenshotRef, "External"); err != nil {
					return err
				}
			}
			row++
		}
	}
	if err := f.SetColWidth(sheet, "C", "C", 48); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "F", "G", 36)
}

func writeExcel(path string, s Summary) error {
	f, err := buildExcel(s)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}
