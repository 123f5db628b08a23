// Package testdata holds the static and runtime values that step arguments can refer to.
package testdata

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// GlobalScope is the runtime scope shared by every test case.
const GlobalScope = "GLOBAL"

// Store keeps static values (sheet → test case → column) loaded once per run and
// runtime values written by steps while the batch executes.
type Store struct {
	mu      sync.RWMutex
	static  map[string]map[string]map[string]string
	runtime map[string]map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		static:  make(map[string]map[string]map[string]string),
		runtime: make(map[string]map[string]string),
	}
}

// PutStatic records a static value. Sheet and column names are matched case-insensitively.
func (s *Store) PutStatic(sheet, testCaseID, column, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sheetKey := normalize(sheet)
	if s.static[sheetKey] == nil {
		s.static[sheetKey] = make(map[string]map[string]string)
	}
	if s.static[sheetKey][testCaseID] == nil {
		s.static[sheetKey][testCaseID] = make(map[string]string)
	}
	s.static[sheetKey][testCaseID][normalize(column)] = value
}

// Static returns a static value.
func (s *Store) Static(sheet, testCaseID, column string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.static[normalize(sheet)][testCaseID][normalize(column)]
	return v, ok
}

// HasSheet reports whether any static data was loaded for sheet.
func (s *Store) HasSheet(sheet string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.static[normalize(sheet)]
	return ok
}

// Put stores a runtime value for a test case. Use GlobalScope to share it across test cases.
func (s *Store) Put(scope, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime[scope] == nil {
		s.runtime[scope] = make(map[string]string)
	}
	s.runtime[scope][key] = value
}

// Runtime returns a runtime value.
func (s *Store) Runtime(scope, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.runtime[scope][key]
	return v, ok
}

// ClearRuntime drops the runtime values of one test case.
func (s *Store) ClearRuntime(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runtime, scope)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LoadWorkbook reads every sheet of an Excel workbook. Each sheet needs a header row
// containing idColumn; the remaining columns become the static values of that row's test case.
func LoadWorkbook(path, idColumn string) (*Store, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open test data workbook %s: %w", path, err)
	}
	defer f.Close()

	store := NewStore()
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read test data sheet %q: %w", sheet, err)
		}
		loadGrid(store, sheet, idColumn, rows)
	}
	return store, nil
}

func loadGrid(store *Store, sheet, idColumn string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	header := rows[0]
	idIdx := -1
	for i, h := range header {
		if normalize(h) == normalize(idColumn) {
			idIdx = i
			break
		}
	}
	if idIdx < 0 {
		return
	}

	for _, r := range rows[1:] {
		if idIdx >= len(r) || strings.TrimSpace(r[idIdx]) == "" {
			continue
		}
		id := strings.TrimSpace(r[idIdx])
		for i, h := range header {
			if i == idIdx || strings.TrimSpace(h) == "" {
				continue
			}
			value := ""
			if i < len(r) {
				value = r[i]
			}
			store.PutStatic(sheet, id, h, value)
		}
	}
}

// yamlData is the YAML layout: sheets → test case → column → value.
type yamlData struct {
	Sheets map[string]map[string]map[string]string `yaml:"sheets"`
}

// LoadYAML reads static test data from a YAML document.
func LoadYAML(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test data %s: %w", path, err)
	}
	var doc yamlData
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse test data %s: %w", path, err)
	}

	store := NewStore()
	for sheet, cases := range doc.Sheets {
		for id, columns := range cases {
			for column, value := range columns {
				store.PutStatic(sheet, id, column, value)
			}
		}
	}
	return store, nil
}

// Load picks the loader by file extension. An empty path yields an empty store.
func Load(path, idColumn string) (*Store, error) {
	if path == "" {
		return NewStore(), nil
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return LoadWorkbook(path, idColumn)
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return LoadYAML(path)
	default:
		return nil, fmt.Errorf("unsupported test data file: %s", path)
	}
}
