package reporting

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// buildJUnit renders the summary as a single JUnit testsuite.
func buildJUnit(s Summary) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	suite := doc.CreateElement("testsuite")
	suite.CreateAttr("name", s.Project)
	suite.CreateAttr("timestamp", s.StartedAt.Format("2006-01-02T15:04:05"))
	// One testcase element per report, so an id with several examples counts each.
	failures := 0
	for _, tc := range s.TestCases {
		if tc.Status == StatusFail {
			failures++
		}
	}
	suite.CreateAttr("tests", strconv.Itoa(len(s.TestCases)))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("errors", "0")
	suite.CreateAttr("time", seconds(s.Duration))

	for _, tc := range s.TestCases {
		el := suite.CreateElement("testcase")
		el.CreateAttr("name", tc.TestCaseID)
		el.CreateAttr("classname", tc.FeatureFile)
		el.CreateAttr("time", seconds(tc.Duration))
		if tc.Status != StatusFail {
			continue
		}
		for _, step := range tc.Steps {
			if step.Status != StatusFail {
				continue
			}
			failure := el.CreateElement("failure")
			failure.CreateAttr("message", fmt.Sprintf("Step %d failed: %s", step.StepNumber, step.Description))
			failure.SetText(step.Detail)
			break
		}
	}
	doc.Indent(2)
	return doc
}

func writeJUnit(path string, s Summary) error {
	return buildJUnit(s).WriteToFile(path)
}
