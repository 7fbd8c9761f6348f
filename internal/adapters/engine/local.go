// Package engine contains the bundled local pipeline engine. The real
// analysis engine is an external collaborator reached through the
// secondary.PipelineEngine port; this adapter is the default wiring
// that walks the resolved image sets and records the completion marker,
// so headless runs produce a definitive status end to end.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/example/cellbatch/internal/core/measure"
	"github.com/example/cellbatch/internal/ports/secondary"
)

// LocalEngine is a minimal secondary.PipelineEngine. It does not
// process images; it resolves the image-set subset, applies each module
// as a pass-through, and records the experiment exit status.
type LocalEngine struct {
	log *slog.Logger
}

// NewLocalEngine creates a local engine.
func NewLocalEngine(log *slog.Logger) *LocalEngine {
	return &LocalEngine{log: log}
}

// Run executes the pipeline over the resolved image sets. Run-to-
// completion semantics: the context is honored only before execution
// begins.
func (e *LocalEngine) Run(ctx context.Context, spec secondary.RunSpec) (*measure.Measurements, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Pipeline == nil {
		return nil, fmt.Errorf("no pipeline to run")
	}

	runID := uuid.NewString()

	result := measure.NewMeasurements()
	numbers := e.resolveImageSets(spec, result)

	e.log.Info("starting pipeline run",
		"run_id", runID,
		"modules", len(spec.Pipeline.Modules),
		"image_sets", len(numbers),
	)

	// Pass-through execution; a real engine dispatches each image set
	// to the module implementations here.
	for _, n := range numbers {
		result.SetImageFeature("ModuleError_Count", n, "0")
	}

	result.SetExperimentMeasurement("Run_ID", runID)
	result.SetExperimentMeasurement(measure.ExitStatusFeature, measure.StatusComplete)

	e.log.Info("pipeline run finished", "run_id", runID, "image_sets", len(numbers))
	return result, nil
}

// resolveImageSets copies the initial measurements into the result and
// returns the image numbers selected by the run spec. Without initial
// measurements the engine numbers the working file list from 1.
func (e *LocalEngine) resolveImageSets(spec secondary.RunSpec, result *measure.Measurements) []int {
	var numbers []int

	if spec.InitialMeasurements != nil {
		for _, n := range spec.InitialMeasurements.ImageNumbers() {
			numbers = append(numbers, n)
		}
		result.SetFileList(spec.InitialMeasurements.FileList())
	} else {
		count := len(spec.Pipeline.FileList)
		if count == 0 {
			count = 1
		}
		for n := 1; n <= count; n++ {
			numbers = append(numbers, n)
		}
	}

	numbers = applyBounds(numbers, spec.ImageSetStart, spec.ImageSetEnd)
	numbers = e.applyGrouping(spec, numbers, result)

	if spec.InitialMeasurements != nil {
		for _, n := range numbers {
			e.copyImageFeatures(spec.InitialMeasurements, result, n)
		}
	}
	return numbers
}

// applyBounds keeps the image numbers inside [start, end]; zero bounds
// are open.
func applyBounds(numbers []int, start, end int) []int {
	var kept []int
	for _, n := range numbers {
		if start > 0 && n < start {
			continue
		}
		if end > 0 && n > end {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

// applyGrouping keeps only image numbers whose metadata matches the
// group restriction.
func (e *LocalEngine) applyGrouping(spec secondary.RunSpec, numbers []int, result *measure.Measurements) []int {
	if len(spec.Grouping) == 0 || spec.InitialMeasurements == nil {
		return numbers
	}

	var kept []int
	for _, n := range numbers {
		matches := true
		for tag, want := range spec.Grouping {
			got, ok := spec.InitialMeasurements.ImageFeature(measure.MetadataPrefix+tag, n)
			if !ok || got != want {
				matches = false
				break
			}
		}
		if matches {
			kept = append(kept, n)
		}
	}
	return kept
}

// copyImageFeatures carries the known per-image features of one image
// set into the result measurements.
func (e *LocalEngine) copyImageFeatures(src, dst *measure.Measurements, n int) {
	for _, feature := range []string{
		measure.GroupNumberFeature,
		measure.GroupIndexFeature,
	} {
		if v, ok := src.ImageFeature(feature, n); ok {
			dst.SetImageFeature(feature, n, v)
		}
	}
	// Image numbers themselves survive as a feature so the result
	// enumerates the processed sets.
	dst.SetImageFeature("ImageNumber", n, strconv.Itoa(n))
}
