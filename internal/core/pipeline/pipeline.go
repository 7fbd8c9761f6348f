// Package pipeline models the pipeline definition consumed by the
// headless runner: an ordered module list with settings, the batch-mode
// flag, and the working file list. The execution engine interprets the
// modules; this package only loads, validates and reconciles them.
package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CreateBatchModuleName names the batch-configuration module. When a
// pipeline was prepared for distributed execution this module carries
// the stored output/input directories that command-line overrides
// replace.
const CreateBatchModuleName = "CreateBatchRecords"

// LoadDataModuleName names the tabular-input module whose data file a
// command-line override replaces.
const LoadDataModuleName = "LoadData"

// Settings keys understood on the batch-configuration and
// tabular-input modules.
const (
	SettingCustomOutputDirectory = "custom_output_directory"
	SettingDefaultImageDirectory = "default_image_directory"
	SettingDataFilePath          = "data_file_path"
)

// Module is one pipeline step with its settings.
type Module struct {
	Name     string            `yaml:"name"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

// IsCreateBatchModule reports whether this is the batch-configuration
// module.
func (m *Module) IsCreateBatchModule() bool {
	return m.Name == CreateBatchModuleName
}

// Pipeline is a loaded pipeline definition.
type Pipeline struct {
	Name      string    `yaml:"name,omitempty"`
	BatchMode bool      `yaml:"batch_mode,omitempty"`
	Modules   []*Module `yaml:"modules"`
	FileList  []string  `yaml:"file_list,omitempty"`
}

// Parse loads a pipeline definition from its textual form. A malformed
// definition is a load error that aborts the run.
func Parse(text string) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	if len(p.Modules) == 0 {
		return nil, fmt.Errorf("failed to parse pipeline: no modules defined")
	}
	for i, mod := range p.Modules {
		if mod.Name == "" {
			return nil, fmt.Errorf("failed to parse pipeline: module %d has no name", i+1)
		}
	}
	return &p, nil
}

// Load reads and parses a pipeline definition file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline %s: %w", path, err)
	}
	p, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline %s: %w", path, err)
	}
	return p, nil
}

// Text renders the pipeline back to its textual form, as embedded in
// batch files.
func (p *Pipeline) Text() (string, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pipeline: %w", err)
	}
	return string(data), nil
}

// CreateBatchModule returns the first batch-configuration module, or
// nil when the pipeline has none. Absence is tolerated silently even in
// batch mode.
func (p *Pipeline) CreateBatchModule() *Module {
	for _, mod := range p.Modules {
		if mod.IsCreateBatchModule() {
			return mod
		}
	}
	return nil
}

// SetSetting records a setting value on a module, allocating the map if
// needed.
func (m *Module) SetSetting(key, value string) {
	if m.Settings == nil {
		m.Settings = make(map[string]string)
	}
	m.Settings[key] = value
}

// AddPathnames appends candidate file paths to the working file list.
func (p *Pipeline) AddPathnames(paths []string) {
	p.FileList = append(p.FileList, paths...)
}

// ReadFileList populates the working file list from a file of one path
// or URL per line. Blank lines are skipped.
func (p *Pipeline) ReadFileList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.FileList = append(p.FileList, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read file list %s: %w", path, err)
	}
	return nil
}
