package reporting

import (
	"os"
	"path"
	"strings"
	"time"
)

// Cucumber JSON, the format accepted by the result upload service.
type cucumberFeature struct {
	URI      string            `json:"uri"`
	ID       string            `json:"id"`
	Keyword  string            `json:"keyword"`
	Name     string            `json:"name"`
	Elements []cucumberElement `json:"elements"`
}

type cucumberElement struct {
	ID      string         `json:"id"`
	Keyword string         `json:"keyword"`
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Tags    []cucumberTag  `json:"tags"`
	Steps   []cucumberStep `json:"steps"`
}

type cucumberTag struct {
	Name string `json:"name"`
}

type cucumberStep struct {
	Keyword string         `json:"keyword"`
	Name    string         `json:"name"`
	Result  cucumberResult `json:"result"`
}

type cucumberResult struct {
	Status       string `json:"status"`
	Duration     int64  `json:"duration"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func cucumberStatus(s Status) string {
	switch s {
	case StatusFail:
		return "failed"
	case StatusSkip:
		return "skipped"
	default:
		return "passed"
	}
}

func slug(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}

// buildCucumber groups test cases by feature file in first-seen order.
func buildCucumber(s Summary) []cucumberFeature {
	features := []cucumberFeature{}
	index := map[string]int{}

	for _, tc := range s.TestCases {
		uri := tc.FeatureFile
		i, ok := index[uri]
		if !ok {
			name := strings.TrimSuffix(path.Base(uri), path.Ext(uri))
			if uri == "" {
				name = s.Project
			}
			features = append(features, cucumberFeature{
				URI:     uri,
				ID:      slug(name),
				Keyword: "Feature",
				Name:    name,
			})
			i = len(features) - 1
			index[uri] = i
		}

		el := cucumberElement{
			ID:      features[i].ID + ";" + slug(tc.TestCaseID),
			Keyword: "Scenario",
			Name:    tc.Description,
			Type:    "scenario",
			Tags:    []cucumberTag{{Name: "@" + strings.TrimPrefix(tc.TestCaseID, "@")}},
			Steps:   make([]cucumberStep, 0, len(tc.Steps)),
		}
		prev := tc.StartTime
		for _, step := range tc.Steps {
			var d time.Duration
			if !prev.IsZero() && step.Timestamp.After(prev) {
				d = step.Timestamp.Sub(prev)
			}
			prev = step.Timestamp
			cs := cucumberStep{
				Keyword: "* ",
				Name:    step.Description,
				Result:  cucumberResult{Status: cucumberStatus(step.Status), Duration: d.Nanoseconds()},
			}
			if step.Status == StatusFail {
				cs.Result.ErrorMessage = step.Detail
			}
			el.Steps = append(el.Steps, cs)
		}
		features[i].Elements = append(features[i].Elements, el)
	}
	return features
}

func writeCucumber(p string, s Summary) error {
	data, err := json.MarshalIndent(buildCucumber(s), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
