package runplan

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlPlan is the on-disk shape of a YAML run plan:
//
//	sheets:
//	  Run Manager:
//	    - {TestCaseID: TC1, FeatureFile: features/login.feature, Execute: Y}
type yamlPlan struct {
	Sheets map[string][]map[string]string `yaml:"sheets"`
}

// YAMLSource reads run plan rows from a YAML document.
type YAMLSource struct {
	path string
}

// NewYAMLSource creates a source for the YAML file at path.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

// Rows implements RowSource.
func (s *YAMLSource) Rows(ctx context.Context, sheet string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run plan %s: %w", s.path, err)
	}

	var plan yamlPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse run plan %s: %w", s.path, err)
	}

	names := make([]string, 0, len(plan.Sheets))
	for name := range plan.Sheets {
		names = append(names, name)
	}
	name, ok := findSheet(names, sheet)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, sheet, s.path)
	}

	records := plan.Sheets[name]
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		rows = append(rows, Row{Number: i + 1, Values: rec})
	}
	return rows, nil
}
