// Package app contains the application services orchestrating the
// partitioner, inspector and headless runner over the store and engine
// ports.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/cellbatch/internal/config"
	"github.com/example/cellbatch/internal/core/measure"
	"github.com/example/cellbatch/internal/core/partition"
	"github.com/example/cellbatch/internal/ports/secondary"
)

// StoreOpener opens a measurement store at a path. Injected so services
// can be tested against fakes and wired against the sqlite adapter.
type StoreOpener func(path string) (secondary.MeasurementStore, error)

// BatchService computes job partitions over a prepared batch file and
// renders them as command lines, and serializes the grouping structure
// for external tooling. Read-only: the store is never mutated.
type BatchService struct {
	program string
	opener  StoreOpener
	out     io.Writer
	log     *slog.Logger
}

// NewBatchService creates a BatchService. program is the executable
// name substituted into rendered command lines.
func NewBatchService(program string, opener StoreOpener, out io.Writer, log *slog.Logger) *BatchService {
	return &BatchService{
		program: program,
		opener:  opener,
		out:     out,
		log:     log,
	}
}

// LegacyJobs computes job descriptors under the legacy policy: group
// boundary ranges when Group_Number/Group_Index are present, regular
// and span more than one group; otherwise tag-based partitioning with
// tags-or-metadata resolution.
func (s *BatchService) LegacyJobs(ctx context.Context, store secondary.MeasurementStore, perJob int) ([]partition.JobDescriptor, error) {
	imageNumbers, err := store.ImageNumbers(ctx)
	if err != nil {
		return nil, err
	}

	hasGroups, err := store.HasFeature(ctx, measure.ImageDomain, measure.GroupNumberFeature)
	if err != nil {
		return nil, err
	}
	if hasGroups {
		groupNumbers, err := store.IntFeature(ctx, measure.ImageDomain, measure.GroupNumberFeature, imageNumbers)
		if err != nil {
			return nil, err
		}
		groupIndexes, err := store.IntFeature(ctx, measure.ImageDomain, measure.GroupIndexFeature, imageNumbers)
		if err != nil {
			return nil, err
		}

		if jobs, ok := partition.GroupBoundaryRanges(groupNumbers, groupIndexes); ok {
			return jobs, nil
		}
		// Irregular or singleton group structure: the group path emits
		// nothing and partitioning degrades to tag-based grouping.
		s.log.Debug("group boundary fast path rejected, using tag-based grouping")
	}

	tags, err := store.GroupingTagsOrMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if len(tags) == 1 && tags[0] == measure.ImageNumberTag {
		return partition.ChunkRanges(imageNumbers, perJob), nil
	}

	groupings, err := store.Groupings(ctx, tags)
	if err != nil {
		return nil, err
	}
	return partition.GroupJobs(groupings), nil
}

// CurrentJobs computes job descriptors under the current policy: an
// explicit batch size always overrides grouping, and grouping applies
// only when real grouping tags exist and the batch size is the default
// one.
func (s *BatchService) CurrentJobs(ctx context.Context, store secondary.MeasurementStore, perJob int) ([]partition.JobDescriptor, error) {
	imageNumbers, err := store.ImageNumbers(ctx)
	if err != nil {
		return nil, err
	}

	tags, err := store.GroupingTagsOnly(ctx)
	if err != nil {
		return nil, err
	}

	if perJob != 1 || len(tags) == 0 {
		return partition.ChunkRanges(imageNumbers, perJob), nil
	}

	groupings, err := store.Groupings(ctx, tags)
	if err != nil {
		return nil, err
	}
	return partition.GroupJobs(groupings), nil
}

// PartitionLegacy prints one command line per legacy-policy job for the
// batch file at path.
func (s *BatchService) PartitionLegacy(ctx context.Context, path string, perJob int) error {
	return s.partition(ctx, path, perJob, s.LegacyJobs)
}

// PartitionCurrent prints one command line per current-policy job for
// the batch file at path.
func (s *BatchService) PartitionCurrent(ctx context.Context, path string, perJob int) error {
	return s.partition(ctx, path, perJob, s.CurrentJobs)
}

func (s *BatchService) partition(
	ctx context.Context,
	path string,
	perJob int,
	policy func(context.Context, secondary.MeasurementStore, int) ([]partition.JobDescriptor, error),
) error {
	path = config.ExpandUser(path)

	store, err := s.opener(path)
	if err != nil {
		return fmt.Errorf("failed to open batch file: %w", err)
	}
	defer store.Close()

	jobs, err := policy(ctx, store, perJob)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		fmt.Fprintln(s.out, job.Command(s.program, path))
	}
	return nil
}

// InspectGroups writes the full grouping structure of the batch file at
// path as a JSON document: an array of [keyMapping, [imageNumber, ...]]
// pairs, with tags resolved the same way as the legacy partitioner.
func (s *BatchService) InspectGroups(ctx context.Context, path string) error {
	path = config.ExpandUser(path)

	store, err := s.opener(path)
	if err != nil {
		return fmt.Errorf("failed to open batch file: %w", err)
	}
	defer store.Close()

	tags, err := store.GroupingTagsOrMetadata(ctx)
	if err != nil {
		return err
	}

	groupings, err := store.Groupings(ctx, tags)
	if err != nil {
		return err
	}

	document := make([][2]any, 0, len(groupings))
	for _, g := range groupings {
		members := g.Members
		if members == nil {
			members = []int{}
		}
		document = append(document, [2]any{g.KeyMap(), members})
	}

	if err := json.NewEncoder(s.out).Encode(document); err != nil {
		return fmt.Errorf("failed to encode grouping document: %w", err)
	}
	return nil
}
