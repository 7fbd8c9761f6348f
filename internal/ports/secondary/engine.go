package secondary

import (
	"context"

	"github.com/example/cellbatch/internal/core/measure"
	"github.com/example/cellbatch/internal/core/pipeline"
)

// RunSpec is the fully-resolved input to a single pipeline execution.
type RunSpec struct {
	Pipeline *pipeline.Pipeline

	// ImageSetStart is the 1-based first image set to process. The
	// engine applies its own full-range default when zero.
	ImageSetStart int

	// ImageSetEnd is the 1-based last image set to process, inclusive.
	// Zero leaves the range open-ended.
	ImageSetEnd int

	// Grouping restricts processing to the image sets matching these
	// key/value pairs. Nil means no restriction.
	Grouping map[string]string

	// InitialMeasurements carries state recovered from a batch file.
	// Nil for fresh runs.
	InitialMeasurements *measure.Measurements
}

// PipelineEngine is the boundary to the pipeline execution engine. The
// call blocks for the duration of the run; no cancellation is supported
// once execution begins. The returned measurements may be non-nil even
// when the run errored, in which case outcome derivation still applies.
type PipelineEngine interface {
	Run(ctx context.Context, spec RunSpec) (*measure.Measurements, error)
}
