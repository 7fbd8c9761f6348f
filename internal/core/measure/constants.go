// Package measure contains the measurement domain model shared by the
// partitioner, inspector and headless runner. This is part of the
// functional core - no I/O, only value types and pure functions.
package measure

// Measurement domains. A feature is keyed by (domain, feature name) and,
// for the image domain, by image number.
const (
	// ImageDomain holds per-image-set features.
	ImageDomain = "Image"
	// ExperimentDomain holds experiment-wide features (one value, no
	// image number).
	ExperimentDomain = "Experiment"
)

// Well-known feature names.
const (
	// GroupNumberFeature is the 1-based group an image set belongs to,
	// assigned in traversal order.
	GroupNumberFeature = "Group_Number"
	// GroupIndexFeature is the 1-based position of an image set within
	// its group.
	GroupIndexFeature = "Group_Index"
	// ExitStatusFeature is the experiment-level completion marker
	// written by the execution engine.
	ExitStatusFeature = "Exit_Status"
	// PipelineFeature is the experiment-level feature carrying the
	// pipeline's textual definition inside a batch file.
	PipelineFeature = "Pipeline_Pipeline"
	// GroupingTagsFeature is the experiment-level feature carrying the
	// comma-joined grouping tags configured for the run, if any.
	GroupingTagsFeature = "Grouping_Tags"
)

// MetadataPrefix prefixes per-image metadata features. The grouping tag
// "Row" is stored as the image feature "Metadata_Row".
const MetadataPrefix = "Metadata_"

// ImageNumberTag is the degenerate grouping tag meaning "no real
// grouping": every image set is its own key.
const ImageNumberTag = "ImageNumber"

// Exit status literals.
const (
	// StatusComplete is the exact text denoting a successful run.
	StatusComplete = "Complete"
	// StatusFailure is the text synthesized when a run leaves no exit
	// status behind.
	StatusFailure = "Failure"
)
