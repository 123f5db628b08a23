package runplan

// TestCaseEntry is one test case selected for execution by the run plan.
type TestCaseEntry struct {
	TestCaseID  string `json:"test_case_id" yaml:"test_case_id"`
	FeatureFile string `json:"feature_file" yaml:"feature_file"`
}

// FeatureExecutionGroup is the set of test cases that run against one feature file,
// in the order they first appeared in the run plan.
type FeatureExecutionGroup struct {
	FeatureFile string   `json:"feature_file" yaml:"feature_file"`
	TestCaseIDs []string `json:"test_case_ids" yaml:"test_case_ids"`
}

// GroupByFeature groups entries by feature file. Groups are ordered by the first
// appearance of their feature file and are never re-sorted.
func GroupByFeature(entries []TestCaseEntry) []FeatureExecutionGroup {
	index := make(map[string]int, len(entries))
	groups := make([]FeatureExecutionGroup, 0)

	for _, e := range entries {
		i, ok := index[e.FeatureFile]
		if !ok {
			i = len(groups)
			index[e.FeatureFile] = i
			groups = append(groups, FeatureExecutionGroup{FeatureFile: e.FeatureFile})
		}
		groups[i].TestCaseIDs = append(groups[i].TestCaseIDs, e.TestCaseID)
	}
	return groups
}

// CountTestCases returns the number of test case ids across all groups.
func CountTestCases(groups []FeatureExecutionGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.TestCaseIDs)
	}
	return n
}
