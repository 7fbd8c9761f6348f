package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/cellbatch/internal/config"
	"github.com/example/cellbatch/internal/core/measure"
	"github.com/example/cellbatch/internal/core/partition"
	"github.com/example/cellbatch/internal/core/pipeline"
	"github.com/example/cellbatch/internal/ports/secondary"
)

// RunRequest is the resolved surface of a single headless run. Bounds
// arrive as raw strings so validation happens in one place; all fields
// are optional except that one pipeline source must be present.
type RunRequest struct {
	// PipelinePath is a pipeline definition file or a prepared batch
	// file to resume from.
	PipelinePath string

	// PipelineText is an in-memory pipeline definition, used when no
	// path is given (e.g. the embedded default).
	PipelineText string

	// FirstImageSet and LastImageSet are 1-based bounds as given on
	// the command line. Non-numeric values are a configuration error.
	FirstImageSet string
	LastImageSet  string

	// GroupSpec restricts processing to one grouping, in
	// "key1=value1,key2=value2" form.
	GroupSpec string

	// OutputDir and ImageDir override the directories stored in a
	// resumed batch configuration.
	OutputDir string
	ImageDir  string

	// DoneFile, when set, receives the literal status text on
	// completion, success or failure.
	DoneFile string
}

// RunOutcome is the definitive completion status of a headless run.
type RunOutcome struct {
	ExitCode   int
	StatusText string
}

// RunService drives a single headless run end to end: subset
// resolution, pipeline acquisition, directory reconciliation, engine
// invocation and outcome derivation.
type RunService struct {
	prefs  *config.Preferences
	engine secondary.PipelineEngine
	opener StoreOpener
	log    *slog.Logger
}

// NewRunService creates a RunService.
func NewRunService(prefs *config.Preferences, eng secondary.PipelineEngine, opener StoreOpener, log *slog.Logger) *RunService {
	return &RunService{
		prefs:  prefs,
		engine: eng,
		opener: opener,
		log:    log,
	}
}

// Run executes one headless run. The returned outcome is valid whenever
// it is non-nil, including alongside an engine error; the caller maps
// its exit code to the process exit status.
func (s *RunService) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	start, end, err := resolveBounds(req.FirstImageSet, req.LastImageSet)
	if err != nil {
		return nil, err
	}

	p, initial, err := s.acquirePipeline(ctx, req, start, end)
	if err != nil {
		return nil, err
	}

	var groups map[string]string
	if req.GroupSpec != "" {
		groups, err = partition.ParseGroupSpec(req.GroupSpec)
		if err != nil {
			return nil, err
		}
	}

	if err := s.populateFileList(p, req); err != nil {
		return nil, err
	}

	s.reconcileBatchOverrides(p, req)
	s.applyDataFile(p)

	result, runErr := s.engine.Run(ctx, secondary.RunSpec{
		Pipeline:            p,
		ImageSetStart:       start,
		ImageSetEnd:         end,
		Grouping:            groups,
		InitialMeasurements: initial,
	})

	outcome := deriveOutcome(result)

	if req.DoneFile != "" {
		if err := writeDoneFile(req.DoneFile, outcome.StatusText); err != nil {
			if runErr == nil {
				runErr = err
			}
			s.log.Error("failed to write done file", "path", req.DoneFile, "error", err)
		}
	}

	if runErr != nil {
		return outcome, fmt.Errorf("pipeline run failed: %w", runErr)
	}
	return outcome, nil
}

// resolveBounds parses the raw image-set bounds. Zero values mean an
// open bound resolved later by the engine's own full-range default; an
// explicit last bound makes the range explicit with start defaulting
// to 1.
func resolveBounds(first, last string) (int, int, error) {
	start := 1
	if first != "" {
		n, err := parseImageSetBound("first-image-set", first)
		if err != nil {
			return 0, 0, err
		}
		start = n
	}

	end := 0
	if last != "" {
		n, err := parseImageSetBound("last-image-set", last)
		if err != nil {
			return 0, 0, err
		}
		end = n
	}
	return start, end, nil
}

func parseImageSetBound(name, value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("the --%s option takes a numeric argument", name)
	}
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("the --%s option takes a numeric argument, got %q", name, value)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// acquirePipeline resolves the pipeline definition and any initial
// measurements: a batch file yields both, a definition file or the
// in-memory text yields the pipeline alone.
func (s *RunService) acquirePipeline(ctx context.Context, req RunRequest, start, end int) (*pipeline.Pipeline, *measure.Measurements, error) {
	path := req.PipelinePath
	if path != "" {
		path = config.ExpandUser(path)

		if store, err := s.opener(path); err == nil {
			p, initial, err := s.resumeFromBatchFile(ctx, store, start, end)
			if cerr := store.Close(); cerr != nil {
				s.log.Warn("failed to close batch file", "path", path, "error", cerr)
			}
			if err != nil {
				return nil, nil, err
			}
			return p, initial, nil
		}
		// Not a measurement container; load as a definition file.
		s.log.Debug("pipeline source is not a batch file", "path", path)

		p, err := pipeline.Load(path)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	}

	if req.PipelineText != "" {
		p, err := pipeline.Parse(req.PipelineText)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	}

	return nil, nil, fmt.Errorf("a pipeline file is required to run")
}

// resumeFromBatchFile recovers the pipeline text and initial
// measurements from a prepared batch file, restricted to the explicit
// image-set range when one was given, and copies the packaged file list
// unless the pipeline is already in batch mode.
func (s *RunService) resumeFromBatchFile(ctx context.Context, store secondary.MeasurementStore, start, end int) (*pipeline.Pipeline, *measure.Measurements, error) {
	text, err := store.ExperimentMeasurement(ctx, measure.PipelineFeature)
	if err != nil {
		return nil, nil, fmt.Errorf("batch file carries no pipeline: %w", err)
	}

	p, err := pipeline.Parse(text)
	if err != nil {
		return nil, nil, err
	}

	imageNumbers, err := store.ImageNumbers(ctx)
	if err != nil {
		return nil, nil, err
	}
	if end > 0 {
		var kept []int
		for _, n := range imageNumbers {
			if n >= start && n <= end {
				kept = append(kept, n)
			}
		}
		imageNumbers = kept
	}

	initial := measure.NewMeasurements()

	features, err := store.ImageFeatureNames(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, feature := range features {
		column, err := store.ImageFeatureColumn(ctx, feature)
		if err != nil {
			return nil, nil, err
		}
		for _, n := range imageNumbers {
			if v, ok := column[n]; ok {
				initial.SetImageFeature(feature, n, v)
			}
		}
	}

	for _, feature := range []string{measure.PipelineFeature, measure.GroupingTagsFeature} {
		has, err := store.HasFeature(ctx, measure.ExperimentDomain, feature)
		if err != nil {
			return nil, nil, err
		}
		if !has {
			continue
		}
		value, err := store.ExperimentMeasurement(ctx, feature)
		if err != nil {
			return nil, nil, err
		}
		initial.SetExperimentMeasurement(feature, value)
	}

	if !p.BatchMode {
		has, err := store.HasFileList(ctx)
		if err != nil {
			return nil, nil, err
		}
		if has {
			paths, err := store.FileList(ctx)
			if err != nil {
				return nil, nil, err
			}
			initial.SetFileList(paths)
		}
	}

	return p, initial, nil
}

// populateFileList fills the pipeline's working file list: an explicit
// image-set file wins, otherwise an input-directory override is walked
// for regular files.
func (s *RunService) populateFileList(p *pipeline.Pipeline, req RunRequest) error {
	if s.prefs.ImageSetFile != "" {
		return p.ReadFileList(s.prefs.ImageSetFile)
	}

	if req.ImageDir == "" {
		return nil
	}

	root, err := filepath.Abs(req.ImageDir)
	if err != nil {
		return fmt.Errorf("failed to resolve image directory %s: %w", req.ImageDir, err)
	}

	var pathnames []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			pathnames = append(pathnames, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk image directory %s: %w", root, err)
	}

	p.AddPathnames(pathnames)
	return nil
}

// reconcileBatchOverrides overwrites the batch-configuration module's
// stored directories with command-line overrides. A batch-mode pipeline
// without such a module is tolerated silently.
func (s *RunService) reconcileBatchOverrides(p *pipeline.Pipeline, req RunRequest) {
	if !p.BatchMode {
		return
	}

	mod := p.CreateBatchModule()
	if mod == nil {
		return
	}

	if req.OutputDir != "" {
		mod.SetSetting(pipeline.SettingCustomOutputDirectory, req.OutputDir)
	}
	if req.ImageDir != "" {
		mod.SetSetting(pipeline.SettingDefaultImageDirectory, req.ImageDir)
	}
}

// applyDataFile points every tabular-input module at the configured
// data file, replacing whatever the pipeline was saved with.
func (s *RunService) applyDataFile(p *pipeline.Pipeline) {
	if s.prefs.DataFile == "" {
		return
	}
	for _, mod := range p.Modules {
		if mod.Name == pipeline.LoadDataModuleName {
			mod.SetSetting(pipeline.SettingDataFilePath, s.prefs.DataFile)
		}
	}
}

// deriveOutcome translates the post-run measurements into the
// definitive completion status. A missing completion feature is an
// implicit failure, not an error.
func deriveOutcome(result *measure.Measurements) *RunOutcome {
	if result == nil || !result.HasExperimentFeature(measure.ExitStatusFeature) {
		return &RunOutcome{ExitCode: 1, StatusText: measure.StatusFailure}
	}

	text, _ := result.ExperimentMeasurement(measure.ExitStatusFeature)
	code := 1
	if text == measure.StatusComplete {
		code = 0
	}
	return &RunOutcome{ExitCode: code, StatusText: text}
}

// writeDoneFile writes the status marker followed by a newline.
func writeDoneFile(path, status string) error {
	if !strings.HasSuffix(status, "\n") {
		status += "\n"
	}
	if err := os.WriteFile(path, []byte(status), 0644); err != nil {
		return fmt.Errorf("failed to write done file %s: %w", path, err)
	}
	return nil
}
