// Package partition contains the pure batch-partitioning logic: slicing
// an image-set population into range or group jobs. No I/O - the app
// layer fetches features from the store and hands in plain slices.
package partition

import (
	"fmt"

	"github.com/example/cellbatch/internal/core/measure"
)

// JobDescriptor is one unit of cluster work: either an inclusive
// image-set range or a grouping-key selector. Immutable once emitted.
type JobDescriptor struct {
	// First and Last bound a range job (1-based, inclusive). Zero when
	// the descriptor is a group job.
	First int
	Last  int
	// Selector carries a group job's key/value pairs in tag order.
	// Empty for range jobs.
	Selector []measure.GroupKey
}

// IsRange reports whether the descriptor selects by image-set range
// rather than by group key.
func (d JobDescriptor) IsRange() bool {
	return len(d.Selector) == 0
}

// Command renders the descriptor as a single invocation of program
// against the given batch file.
func (d JobDescriptor) Command(program, batchPath string) string {
	if d.IsRange() {
		return fmt.Sprintf("%s -c -r -p %s -f %d -l %d", program, batchPath, d.First, d.Last)
	}
	g := measure.Grouping{Key: d.Selector}
	return fmt.Sprintf("%s -c -r -p %s -g %s", program, batchPath, g.Selector())
}

// Regular reports whether a Group_Number/Group_Index sequence is
// well-formed: each consecutive pair either continues the same group
// (index increments by 1) or starts the next group (index resets to 1
// and group number increments by 1).
func Regular(groupNumbers, groupIndexes []int) bool {
	for i := 1; i < len(groupNumbers); i++ {
		if groupIndexes[i] == groupIndexes[i-1]+1 {
			continue
		}
		if groupIndexes[i] == 1 && groupNumbers[i] == groupNumbers[i-1]+1 {
			continue
		}
		return false
	}
	return true
}

// GroupBoundaryRanges computes one range job per group from a regular
// Group_Number/Group_Index sequence. Group sizes are counted per group
// number and turned into cumulative boundary offsets; each group spans
// (previous boundary + 1) to (its own boundary), with empty groups
// skipped. Returns ok=false - no descriptors - when the store has only
// one group or the sequence is irregular; callers then fall back to
// tag-based partitioning.
func GroupBoundaryRanges(groupNumbers, groupIndexes []int) ([]JobDescriptor, bool) {
	if len(groupNumbers) == 0 || len(groupNumbers) != len(groupIndexes) {
		return nil, false
	}

	multi := false
	for _, gn := range groupNumbers {
		if gn != 1 {
			multi = true
			break
		}
	}
	if !multi || !Regular(groupNumbers, groupIndexes) {
		return nil, false
	}

	maxGroup := 0
	for _, gn := range groupNumbers {
		if gn > maxGroup {
			maxGroup = gn
		}
	}

	counts := make([]int, maxGroup+1)
	for _, gn := range groupNumbers {
		counts[gn]++
	}

	var jobs []JobDescriptor
	prev := 0
	cum := 0
	for _, count := range counts {
		cum += count
		if cum == prev {
			continue
		}
		jobs = append(jobs, JobDescriptor{First: prev + 1, Last: cum})
		prev = cum
	}
	return jobs, true
}

// ChunkRanges partitions image numbers into consecutive chunks of
// perJob, the last chunk possibly shorter, emitting one range job per
// chunk. Bounds are the actual first and last image numbers of each
// chunk, so non-contiguous numbering is preserved.
func ChunkRanges(imageNumbers []int, perJob int) []JobDescriptor {
	if perJob < 1 {
		perJob = 1
	}
	var jobs []JobDescriptor
	for i := 0; i < len(imageNumbers); i += perJob {
		last := i + perJob - 1
		if last > len(imageNumbers)-1 {
			last = len(imageNumbers) - 1
		}
		jobs = append(jobs, JobDescriptor{First: imageNumbers[i], Last: imageNumbers[last]})
	}
	return jobs
}

// GroupJobs emits one group job per bucket, carrying the bucket key in
// tag order. Member image numbers are not needed for the command.
func GroupJobs(groupings []measure.Grouping) []JobDescriptor {
	jobs := make([]JobDescriptor, 0, len(groupings))
	for _, g := range groupings {
		jobs = append(jobs, JobDescriptor{Selector: g.Key})
	}
	return jobs
}
