package orchestrator

import (
	"github.com/xkilldash9x/batchpilot/internal/reporting"
	"github.com/xkilldash9x/batchpilot/internal/store"
)

// historyRecords converts the run summary into store rows.
func historyRecords(res *Result, s reporting.Summary, reportDir string) (store.RunRecord, []store.TestCaseResult) {
	run := store.RunRecord{
		ID:         res.RunID,
		Project:    s.Project,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Total:      res.Successful + res.Failed,
		Passed:     res.Successful,
		Failed:     res.Failed,
		ReportDir:  reportDir,
	}
	if res.UploadJob != nil {
		run.UploadPhase = res.UploadJob.Phase.String()
		run.TrackingID = res.UploadJob.TrackingID
	}

	// Rows are unique per test case. Several reports for one id (Scenario Outline
	// examples) merge into one row that fails if any of them failed.
	index := map[string]int{}
	var results []store.TestCaseResult
	for _, tc := range s.TestCases {
		detail := firstFailure(tc)
		i, ok := index[tc.TestCaseID]
		if !ok {
			index[tc.TestCaseID] = len(results)
			results = append(results, store.TestCaseResult{
				RunID:         res.RunID,
				TestCaseID:    tc.TestCaseID,
				FeatureFile:   tc.FeatureFile,
				Status:        string(tc.Status),
				TotalSteps:    tc.TotalSteps,
				PassedSteps:   tc.PassedSteps,
				FailedSteps:   tc.FailedSteps,
				StartedAt:     tc.StartTime,
				FinishedAt:    tc.EndTime,
				FailureDetail: detail,
			})
			continue
		}

		r := &results[i]
		if tc.Status == reporting.StatusFail {
			r.Status = string(reporting.StatusFail)
		}
		r.TotalSteps += tc.TotalSteps
		r.PassedSteps += tc.PassedSteps
		r.FailedSteps += tc.FailedSteps
		if tc.EndTime.After(r.FinishedAt) {
			r.FinishedAt = tc.EndTime
		}
		if r.FailureDetail == "" {
			r.FailureDetail = detail
		}
	}
	return run, results
}

func firstFailure(tc reporting.TestCaseReport) string {
	for _, step := range tc.Steps {
		if step.Status == reporting.StatusFail {
			return step.Detail
		}
	}
	return ""
}
