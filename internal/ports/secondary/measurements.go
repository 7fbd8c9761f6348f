// Package secondary defines the outbound interfaces of the application:
// the measurement store and the pipeline execution engine. Adapters
// implement these; services depend only on the contracts.
package secondary

import (
	"context"

	"github.com/example/cellbatch/internal/core/measure"
)

// MeasurementStore is the narrow capability interface over a prepared
// measurement/batch file. The store is owned externally and only
// borrowed read-only by the partitioner, inspector and runner.
type MeasurementStore interface {
	// ImageNumbers enumerates every image number in the store in
	// increasing order.
	ImageNumbers(ctx context.Context) ([]int, error)

	// HasFeature reports whether a feature was recorded for the domain.
	HasFeature(ctx context.Context, domain, feature string) (bool, error)

	// Feature returns the feature values for the given image numbers,
	// in the same order. Every requested image number must have a
	// recorded value.
	Feature(ctx context.Context, domain, feature string, imageNumbers []int) ([]string, error)

	// IntFeature is Feature with values parsed as integers.
	IntFeature(ctx context.Context, domain, feature string, imageNumbers []int) ([]int, error)

	// ExperimentMeasurement returns the value of an experiment-level
	// feature. Absence is an error; check HasFeature first when absence
	// is expected.
	ExperimentMeasurement(ctx context.Context, feature string) (string, error)

	// GroupingTagsOnly returns the configured grouping tags, or an
	// empty slice when no real grouping metadata exists.
	GroupingTagsOnly(ctx context.Context) ([]string, error)

	// GroupingTagsOrMetadata returns the configured grouping tags,
	// falling back to metadata-derived tags and finally to the
	// degenerate ["ImageNumber"] placeholder.
	GroupingTagsOrMetadata(ctx context.Context) ([]string, error)

	// Groupings buckets the store's image sets by the given tags, in
	// encounter order. Produced fresh on each call.
	Groupings(ctx context.Context, tags []string) ([]measure.Grouping, error)

	// ImageFeatureNames lists every per-image feature recorded in the
	// store, sorted by name.
	ImageFeatureNames(ctx context.Context) ([]string, error)

	// ImageFeatureColumn returns every recorded value of one per-image
	// feature, keyed by image number. Sparse features are allowed.
	ImageFeatureColumn(ctx context.Context, feature string) (map[int]string, error)

	// HasFileList reports whether the store carries a packaged file
	// list.
	HasFileList(ctx context.Context) (bool, error)

	// FileList returns the packaged file list in stored order.
	FileList(ctx context.Context) ([]string, error)

	// Close releases the underlying file. Safe to call once on every
	// exit path.
	Close() error
}
