package measure

import (
	"sort"
	"strings"
)

// GroupKey is one tag/value pair of a grouping bucket. Buckets carry
// their keys as an ordered slice so selector strings and documents
// reproduce the configured tag order.
type GroupKey struct {
	Tag   string
	Value string
}

// Grouping is one bucket of image sets sharing the same key values.
// Members are listed in encounter order.
type Grouping struct {
	Key     []GroupKey
	Members []int
}

// Selector renders the bucket key as "tag1=value1,tag2=value2" in tag
// order.
func (g Grouping) Selector() string {
	parts := make([]string, len(g.Key))
	for i, kv := range g.Key {
		parts[i] = kv.Tag + "=" + kv.Value
	}
	return strings.Join(parts, ",")
}

// KeyMap returns the bucket key as a plain map for serialization.
func (g Grouping) KeyMap() map[string]string {
	m := make(map[string]string, len(g.Key))
	for _, kv := range g.Key {
		m[kv.Tag] = kv.Value
	}
	return m
}

// Measurements is the in-process measurements object owned by a single
// headless run: the initial state recovered from a batch file before the
// run, and the result state the engine hands back after it. Not safe for
// concurrent use; a run owns its measurements exclusively.
type Measurements struct {
	image      map[string]map[int]string
	experiment map[string]string
	fileList   []string
}

// NewMeasurements creates an empty measurements object.
func NewMeasurements() *Measurements {
	return &Measurements{
		image:      make(map[string]map[int]string),
		experiment: make(map[string]string),
	}
}

// SetImageFeature records a per-image-set feature value.
func (m *Measurements) SetImageFeature(feature string, imageNumber int, value string) {
	values, ok := m.image[feature]
	if !ok {
		values = make(map[int]string)
		m.image[feature] = values
	}
	values[imageNumber] = value
}

// ImageFeature returns the value of a per-image-set feature, if present.
func (m *Measurements) ImageFeature(feature string, imageNumber int) (string, bool) {
	values, ok := m.image[feature]
	if !ok {
		return "", false
	}
	v, ok := values[imageNumber]
	return v, ok
}

// SetExperimentMeasurement records an experiment-wide feature value.
func (m *Measurements) SetExperimentMeasurement(feature, value string) {
	m.experiment[feature] = value
}

// ExperimentMeasurement returns an experiment-wide feature value, if
// present.
func (m *Measurements) ExperimentMeasurement(feature string) (string, bool) {
	v, ok := m.experiment[feature]
	return v, ok
}

// HasExperimentFeature reports whether an experiment-wide feature was
// recorded.
func (m *Measurements) HasExperimentFeature(feature string) bool {
	_, ok := m.experiment[feature]
	return ok
}

// ImageNumbers enumerates every image number with at least one recorded
// feature, in increasing order.
func (m *Measurements) ImageNumbers() []int {
	seen := make(map[int]bool)
	for _, values := range m.image {
		for n := range values {
			seen[n] = true
		}
	}
	numbers := make([]int, 0, len(seen))
	for n := range seen {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

// SetFileList replaces the working file list carried alongside the
// measurements.
func (m *Measurements) SetFileList(paths []string) {
	m.fileList = append([]string(nil), paths...)
}

// FileList returns the working file list, which may be empty.
func (m *Measurements) FileList() []string {
	return m.fileList
}
