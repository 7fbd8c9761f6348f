// Package sqlite contains the SQLite implementation of the measurement
// store. A batch file is a SQLite database holding per-image features,
// experiment-level features and an optional packaged file list.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/cellbatch/internal/core/measure"
)

// sqliteMagic is the 16-byte header of every SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// IsMeasurementFile reports whether the file at path is a structured
// measurement container rather than a textual pipeline definition.
func IsMeasurementFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := f.Read(header); err != nil {
		return false
	}
	return bytes.Equal(header, sqliteMagic)
}

// MeasurementStore implements secondary.MeasurementStore against a
// SQLite batch file opened read-only.
type MeasurementStore struct {
	db   *sql.DB
	path string
}

// Open opens the measurement store at path read-only.
func Open(path string) (*MeasurementStore, error) {
	if !IsMeasurementFile(path) {
		return nil, fmt.Errorf("%s is not a measurement file", path)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open measurement store %s: %w", path, err)
	}

	return &MeasurementStore{db: db, path: path}, nil
}

// Path returns the file the store was opened from.
func (s *MeasurementStore) Path() string {
	return s.path
}

// Close releases the underlying database handle.
func (s *MeasurementStore) Close() error {
	return s.db.Close()
}

// ImageNumbers enumerates every image number in the store in increasing
// order.
func (s *MeasurementStore) ImageNumbers(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT image_number FROM image_measurements ORDER BY image_number",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate image numbers: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan image number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to enumerate image numbers: %w", err)
	}
	return numbers, nil
}

// HasFeature reports whether a feature was recorded for the domain.
func (s *MeasurementStore) HasFeature(ctx context.Context, domain, feature string) (bool, error) {
	var query string
	switch domain {
	case measure.ExperimentDomain:
		query = "SELECT COUNT(*) FROM experiment_measurements WHERE feature = ?"
	case measure.ImageDomain:
		query = "SELECT COUNT(*) FROM image_measurements WHERE feature = ?"
	default:
		return false, fmt.Errorf("unknown measurement domain %q", domain)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, feature).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check feature %s/%s: %w", domain, feature, err)
	}
	return count > 0, nil
}

// Feature returns the feature values for the given image numbers, in
// the same order. A missing value for any requested image number is an
// error rather than a guess.
func (s *MeasurementStore) Feature(ctx context.Context, domain, feature string, imageNumbers []int) ([]string, error) {
	if domain != measure.ImageDomain {
		return nil, fmt.Errorf("per-image lookup is only valid for the %s domain, got %q", measure.ImageDomain, domain)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT image_number, value FROM image_measurements WHERE feature = ?", feature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feature %s: %w", feature, err)
	}
	defer rows.Close()

	byNumber := make(map[int]string)
	for rows.Next() {
		var (
			n     int
			value string
		)
		if err := rows.Scan(&n, &value); err != nil {
			return nil, fmt.Errorf("failed to scan feature %s: %w", feature, err)
		}
		byNumber[n] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch feature %s: %w", feature, err)
	}

	values := make([]string, len(imageNumbers))
	for i, n := range imageNumbers {
		v, ok := byNumber[n]
		if !ok {
			return nil, fmt.Errorf("feature %s has no value for image number %d", feature, n)
		}
		values[i] = v
	}
	return values, nil
}

// IntFeature is Feature with values parsed as integers.
func (s *MeasurementStore) IntFeature(ctx context.Context, domain, feature string, imageNumbers []int) ([]int, error) {
	values, err := s.Feature(ctx, domain, feature, imageNumbers)
	if err != nil {
		return nil, err
	}

	ints := make([]int, len(values))
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("feature %s value %q for image number %d is not an integer: %w", feature, v, imageNumbers[i], err)
		}
		ints[i] = n
	}
	return ints, nil
}

// ExperimentMeasurement returns the value of an experiment-level
// feature.
func (s *MeasurementStore) ExperimentMeasurement(ctx context.Context, feature string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM experiment_measurements WHERE feature = ?", feature,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("experiment feature %s not found", feature)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch experiment feature %s: %w", feature, err)
	}
	return value, nil
}

// GroupingTagsOnly returns the configured grouping tags, or nil when no
// real grouping metadata exists.
func (s *MeasurementStore) GroupingTagsOnly(ctx context.Context) ([]string, error) {
	has, err := s.HasFeature(ctx, measure.ExperimentDomain, measure.GroupingTagsFeature)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	raw, err := s.ExperimentMeasurement(ctx, measure.GroupingTagsFeature)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		tags = append(tags, strings.TrimSpace(tag))
	}
	return tags, nil
}

// GroupingTagsOrMetadata returns the configured grouping tags, falling
// back to the store's metadata features and finally to the degenerate
// ["ImageNumber"] placeholder meaning no real grouping.
func (s *MeasurementStore) GroupingTagsOrMetadata(ctx context.Context) ([]string, error) {
	tags, err := s.GroupingTagsOnly(ctx)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		return tags, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT feature FROM image_measurements WHERE feature LIKE ? ORDER BY feature",
		measure.MetadataPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate metadata features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var feature string
		if err := rows.Scan(&feature); err != nil {
			return nil, fmt.Errorf("failed to scan metadata feature: %w", err)
		}
		tags = append(tags, strings.TrimPrefix(feature, measure.MetadataPrefix))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to enumerate metadata features: %w", err)
	}

	if len(tags) == 0 {
		return []string{measure.ImageNumberTag}, nil
	}
	return tags, nil
}

// Groupings buckets the store's image sets by the given tags, in
// encounter order of the key values.
func (s *MeasurementStore) Groupings(ctx context.Context, tags []string) ([]measure.Grouping, error) {
	numbers, err := s.ImageNumbers(ctx)
	if err != nil {
		return nil, err
	}

	// One value column per tag, aligned with numbers.
	columns := make([][]string, len(tags))
	for i, tag := range tags {
		if tag == measure.ImageNumberTag {
			col := make([]string, len(numbers))
			for j, n := range numbers {
				col[j] = strconv.Itoa(n)
			}
			columns[i] = col
			continue
		}
		col, err := s.Feature(ctx, measure.ImageDomain, measure.MetadataPrefix+tag, numbers)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve grouping tag %s: %w", tag, err)
		}
		columns[i] = col
	}

	var (
		groupings []measure.Grouping
		index     = make(map[string]int)
	)
	for j, n := range numbers {
		key := make([]measure.GroupKey, len(tags))
		composite := make([]string, len(tags))
		for i, tag := range tags {
			key[i] = measure.GroupKey{Tag: tag, Value: columns[i][j]}
			composite[i] = columns[i][j]
		}
		ck := strings.Join(composite, "\x00")

		pos, ok := index[ck]
		if !ok {
			pos = len(groupings)
			index[ck] = pos
			groupings = append(groupings, measure.Grouping{Key: key})
		}
		groupings[pos].Members = append(groupings[pos].Members, n)
	}
	return groupings, nil
}

// HasFileList reports whether the store carries a packaged file list.
func (s *MeasurementStore) HasFileList(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_list").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check file list: %w", err)
	}
	return count > 0, nil
}

// FileList returns the packaged file list in stored order.
func (s *MeasurementStore) FileList(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM file_list ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file list: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan file list entry: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch file list: %w", err)
	}
	return paths, nil
}

// ImageFeatureColumn returns every recorded value of one per-image
// feature, keyed by image number.
func (s *MeasurementStore) ImageFeatureColumn(ctx context.Context, feature string) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT image_number, value FROM image_measurements WHERE feature = ?", feature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feature %s: %w", feature, err)
	}
	defer rows.Close()

	column := make(map[int]string)
	for rows.Next() {
		var (
			n     int
			value string
		)
		if err := rows.Scan(&n, &value); err != nil {
			return nil, fmt.Errorf("failed to scan feature %s: %w", feature, err)
		}
		column[n] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch feature %s: %w", feature, err)
	}
	return column, nil
}

// ImageFeatureNames lists every per-image feature recorded in the
// store, sorted by name.
func (s *MeasurementStore) ImageFeatureNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT feature FROM image_measurements ORDER BY feature",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate image features: %w", err)
	}
	defer rows.Close()

	var features []string
	for rows.Next() {
		var feature string
		if err := rows.Scan(&feature); err != nil {
			return nil, fmt.Errorf("failed to scan feature name: %w", err)
		}
		features = append(features, feature)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to enumerate image features: %w", err)
	}
	return features, nil
}
