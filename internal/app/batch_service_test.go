package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/cellbatch/internal/adapters/sqlite"
	"github.com/example/cellbatch/internal/app"
	"github.com/example/cellbatch/internal/core/measure"
	"github.com/example/cellbatch/internal/logger"
	"github.com/example/cellbatch/internal/ports/secondary"
)

func sqliteOpener(path string) (secondary.MeasurementStore, error) {
	return sqlite.Open(path)
}

// newBatchFile creates a batch file and returns its path and writer.
func newBatchFile(t *testing.T) (string, *sqlite.BatchWriter) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "Batch_data.db")
	w, err := sqlite.Create(path)
	if err != nil {
		t.Fatalf("failed to create batch file: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
	})
	return path, w
}

func newBatchService(out *bytes.Buffer) *app.BatchService {
	return app.NewBatchService("cellbatch", sqliteOpener, out, logger.Discard())
}

// seedPlainImages writes count image sets with URL features only.
func seedPlainImages(t *testing.T, w *sqlite.BatchWriter, count int) {
	t.Helper()
	ctx := context.Background()
	for n := 1; n <= count; n++ {
		if err := w.SetImageFeature(ctx, n, "URL_Image", fmt.Sprintf("img%03d.tif", n)); err != nil {
			t.Fatalf("failed to seed image %d: %v", n, err)
		}
	}
}

func commandLines(out *bytes.Buffer) []string {
	text := strings.TrimRight(out.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestPartitionLegacy_GroupBoundaries(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()
	if err := w.SetGroupStructure(ctx, 1, []int{3, 2, 4}); err != nil {
		t.Fatalf("failed to write group structure: %v", err)
	}

	var out bytes.Buffer
	svc := newBatchService(&out)

	if err := svc.PartitionLegacy(ctx, path, 1); err != nil {
		t.Fatalf("PartitionLegacy failed: %v", err)
	}

	lines := commandLines(&out)
	want := []string{
		fmt.Sprintf("cellbatch -c -r -p %s -f 1 -l 3", path),
		fmt.Sprintf("cellbatch -c -r -p %s -f 4 -l 5", path),
		fmt.Sprintf("cellbatch -c -r -p %s -f 6 -l 9", path),
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d commands, got %d: %v", len(want), len(lines), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

// A store whose Group_Number is constant must never emit group-boundary
// ranges: it degrades to tag-based chunking, identical to a store with
// no group features at all.
func TestPartitionLegacy_SingletonGroupFallsThrough(t *testing.T) {
	ctx := context.Background()

	grouped, gw := newBatchFile(t)
	if err := gw.SetGroupStructure(ctx, 1, []int{6}); err != nil {
		t.Fatalf("failed to write group structure: %v", err)
	}
	seedPlainImages(t, gw, 6)

	plain, pw := newBatchFile(t)
	seedPlainImages(t, pw, 6)

	var groupedOut, plainOut bytes.Buffer

	if err := newBatchService(&groupedOut).PartitionLegacy(ctx, grouped, 2); err != nil {
		t.Fatalf("PartitionLegacy failed: %v", err)
	}
	if err := newBatchService(&plainOut).PartitionLegacy(ctx, plain, 2); err != nil {
		t.Fatalf("PartitionLegacy failed: %v", err)
	}

	groupedLines := commandLines(&groupedOut)
	plainLines := commandLines(&plainOut)
	if len(groupedLines) != len(plainLines) {
		t.Fatalf("singleton-group store emitted %d commands, tag-based store %d", len(groupedLines), len(plainLines))
	}
	for i := range groupedLines {
		// Paths differ; compare the flag tails.
		gTail := groupedLines[i][strings.Index(groupedLines[i], " -f "):]
		pTail := plainLines[i][strings.Index(plainLines[i], " -f "):]
		if gTail != pTail {
			t.Errorf("line %d: %q vs %q", i, gTail, pTail)
		}
	}
}

func TestPartitionLegacy_IrregularFallsThroughToMetadata(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()

	// Two groups but a broken index sequence.
	gn := []int{1, 1, 2, 2}
	gi := []int{1, 2, 1, 3}
	rows := []string{"A", "A", "B", "B"}
	for i := range gn {
		n := i + 1
		if err := w.SetImageFeature(ctx, n, measure.GroupNumberFeature, fmt.Sprintf("%d", gn[i])); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
		if err := w.SetImageFeature(ctx, n, measure.GroupIndexFeature, fmt.Sprintf("%d", gi[i])); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
		if err := w.SetImageFeature(ctx, n, measure.MetadataPrefix+"Row", rows[i]); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	var out bytes.Buffer
	if err := newBatchService(&out).PartitionLegacy(ctx, path, 1); err != nil {
		t.Fatalf("PartitionLegacy failed: %v", err)
	}

	lines := commandLines(&out)
	if len(lines) != 2 {
		t.Fatalf("expected 2 metadata group commands, got %d: %v", len(lines), lines)
	}
	if !strings.HasSuffix(lines[0], "-g Row=A") || !strings.HasSuffix(lines[1], "-g Row=B") {
		t.Errorf("unexpected selectors: %v", lines)
	}
}

func TestPartitionLegacy_ChunksWithoutGrouping(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()
	seedPlainImages(t, w, 7)

	var out bytes.Buffer
	if err := newBatchService(&out).PartitionLegacy(ctx, path, 3); err != nil {
		t.Fatalf("PartitionLegacy failed: %v", err)
	}

	lines := commandLines(&out)
	if len(lines) != 3 {
		t.Fatalf("expected 3 commands, got %d: %v", len(lines), lines)
	}
	if !strings.HasSuffix(lines[2], "-f 7 -l 7") {
		t.Errorf("last chunk = %q, want suffix -f 7 -l 7", lines[2])
	}
}

func TestPartitionCurrent_BatchSizeOverridesGrouping(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()
	seedPlainImages(t, w, 6)
	if err := w.SetGroupingTags(ctx, []string{"Row"}); err != nil {
		t.Fatalf("failed to set grouping tags: %v", err)
	}
	for n := 1; n <= 6; n++ {
		row := "A"
		if n > 3 {
			row = "B"
		}
		if err := w.SetImageFeature(ctx, n, measure.MetadataPrefix+"Row", row); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	var out bytes.Buffer
	if err := newBatchService(&out).PartitionCurrent(ctx, path, 2); err != nil {
		t.Fatalf("PartitionCurrent failed: %v", err)
	}

	lines := commandLines(&out)
	if len(lines) != 3 {
		t.Fatalf("explicit batch size must override grouping: got %v", lines)
	}
	for _, line := range lines {
		if strings.Contains(line, " -g ") {
			t.Errorf("expected range commands only, got %q", line)
		}
	}
}

func TestPartitionCurrent_GroupsAtDefaultBatchSize(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()
	if err := w.SetGroupingTags(ctx, []string{"Row", "Col"}); err != nil {
		t.Fatalf("failed to set grouping tags: %v", err)
	}
	fixtures := []struct {
		n        int
		row, col string
	}{
		{1, "A", "01"}, {2, "A", "01"}, {3, "B", "02"}, {4, "B", "02"},
	}
	for _, f := range fixtures {
		if err := w.SetImageFeature(ctx, f.n, measure.MetadataPrefix+"Row", f.row); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
		if err := w.SetImageFeature(ctx, f.n, measure.MetadataPrefix+"Col", f.col); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	var out bytes.Buffer
	if err := newBatchService(&out).PartitionCurrent(ctx, path, 1); err != nil {
		t.Fatalf("PartitionCurrent failed: %v", err)
	}

	lines := commandLines(&out)
	want := []string{
		fmt.Sprintf("cellbatch -c -r -p %s -g Row=A,Col=01", path),
		fmt.Sprintf("cellbatch -c -r -p %s -g Row=B,Col=02", path),
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d commands, got %d: %v", len(want), len(lines), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestPartitionCurrent_NoTagsChunks(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()
	seedPlainImages(t, w, 5)

	var out bytes.Buffer
	if err := newBatchService(&out).PartitionCurrent(ctx, path, 1); err != nil {
		t.Fatalf("PartitionCurrent failed: %v", err)
	}

	lines := commandLines(&out)
	if len(lines) != 5 {
		t.Fatalf("expected 5 single-set ranges, got %d", len(lines))
	}
}

func TestInspectGroups_RoundTrip(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()

	fixtures := []struct {
		n   int
		row string
	}{
		{1, "A"}, {2, "A"}, {3, "B"}, {4, "A"}, {5, "B"},
	}
	for _, f := range fixtures {
		if err := w.SetImageFeature(ctx, f.n, measure.MetadataPrefix+"Row", f.row); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	var out bytes.Buffer
	if err := newBatchService(&out).InspectGroups(ctx, path); err != nil {
		t.Fatalf("InspectGroups failed: %v", err)
	}

	var document [][2]json.RawMessage
	if err := json.Unmarshal(out.Bytes(), &document); err != nil {
		t.Fatalf("grouping document is not valid JSON: %v", err)
	}

	if len(document) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(document))
	}

	total := 0
	for i, pair := range document {
		var key map[string]string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			t.Fatalf("bucket %d key is not a mapping: %v", i, err)
		}
		if _, ok := key["Row"]; !ok {
			t.Errorf("bucket %d key missing Row tag: %v", i, key)
		}

		var members []int
		if err := json.Unmarshal(pair[1], &members); err != nil {
			t.Fatalf("bucket %d members are not integers: %v", i, err)
		}
		total += len(members)
	}
	if total != len(fixtures) {
		t.Errorf("document covers %d image numbers, want %d", total, len(fixtures))
	}
}
