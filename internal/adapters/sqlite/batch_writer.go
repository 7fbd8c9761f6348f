package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/cellbatch/internal/core/measure"
)

const schema = `
CREATE TABLE IF NOT EXISTS image_measurements (
	image_number INTEGER NOT NULL,
	feature TEXT NOT NULL,
	value TEXT,
	PRIMARY KEY (image_number, feature)
);
CREATE TABLE IF NOT EXISTS experiment_measurements (
	feature TEXT PRIMARY KEY,
	value TEXT
);
CREATE TABLE IF NOT EXISTS file_list (
	position INTEGER PRIMARY KEY,
	path TEXT NOT NULL
);
`

// BatchWriter prepares a batch file: the pipeline text, grouping
// metadata, per-image features and the packaged file list. The reading
// side never mutates a store; only preparation goes through here.
type BatchWriter struct {
	db *sql.DB
}

// Create opens (creating if needed) a batch file for writing and
// ensures the schema exists.
func Create(path string) (*BatchWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch file %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize batch file schema: %w", err)
	}

	return &BatchWriter{db: db}, nil
}

// Close releases the underlying database handle.
func (w *BatchWriter) Close() error {
	return w.db.Close()
}

// SetImageFeature records a per-image feature value, replacing any
// existing value.
func (w *BatchWriter) SetImageFeature(ctx context.Context, imageNumber int, feature, value string) error {
	_, err := w.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO image_measurements (image_number, feature, value) VALUES (?, ?, ?)",
		imageNumber, feature, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write feature %s for image %d: %w", feature, imageNumber, err)
	}
	return nil
}

// SetExperimentMeasurement records an experiment-level feature value.
func (w *BatchWriter) SetExperimentMeasurement(ctx context.Context, feature, value string) error {
	_, err := w.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO experiment_measurements (feature, value) VALUES (?, ?)",
		feature, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write experiment feature %s: %w", feature, err)
	}
	return nil
}

// SetPipelineText embeds the pipeline's textual definition.
func (w *BatchWriter) SetPipelineText(ctx context.Context, text string) error {
	return w.SetExperimentMeasurement(ctx, measure.PipelineFeature, text)
}

// SetGroupingTags records the configured grouping tags, comma-joined.
func (w *BatchWriter) SetGroupingTags(ctx context.Context, tags []string) error {
	return w.SetExperimentMeasurement(ctx, measure.GroupingTagsFeature, strings.Join(tags, ","))
}

// SetFileList replaces the packaged file list.
func (w *BatchWriter) SetFileList(ctx context.Context, paths []string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin file list transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM file_list"); err != nil {
		return fmt.Errorf("failed to clear file list: %w", err)
	}
	for i, path := range paths {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO file_list (position, path) VALUES (?, ?)", i, path,
		)
		if err != nil {
			return fmt.Errorf("failed to write file list entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file list: %w", err)
	}
	return nil
}

// SetGroupStructure writes Group_Number and Group_Index features for a
// contiguous run of image numbers carved into the given group sizes.
// Image numbers start at first.
func (w *BatchWriter) SetGroupStructure(ctx context.Context, first int, groupSizes []int) error {
	n := first
	for g, size := range groupSizes {
		for idx := 1; idx <= size; idx++ {
			if err := w.SetImageFeature(ctx, n, measure.GroupNumberFeature, fmt.Sprintf("%d", g+1)); err != nil {
				return err
			}
			if err := w.SetImageFeature(ctx, n, measure.GroupIndexFeature, fmt.Sprintf("%d", idx)); err != nil {
				return err
			}
			n++
		}
	}
	return nil
}
