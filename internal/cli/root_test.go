package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/cellbatch/internal/adapters/fetch"
	"github.com/example/cellbatch/internal/adapters/sqlite"
	"github.com/example/cellbatch/internal/app"
	"github.com/example/cellbatch/internal/cli"
	"github.com/example/cellbatch/internal/config"
	"github.com/example/cellbatch/internal/core/measure"
	"github.com/example/cellbatch/internal/logger"
	"github.com/example/cellbatch/internal/ports/secondary"
)

func openStore(path string) (secondary.MeasurementStore, error) {
	return sqlite.Open(path)
}

type stubEngine struct {
	status string
	err    error
}

func (e *stubEngine) Run(ctx context.Context, spec secondary.RunSpec) (*measure.Measurements, error) {
	if e.err != nil {
		return nil, e.err
	}
	m := measure.NewMeasurements()
	m.SetExperimentMeasurement(measure.ExitStatusFeature, e.status)
	return m, nil
}

// harness bundles a root command with captured output and the exit
// code slot the run path writes into.
type harness struct {
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	exitCode int
}

func newHarness(t *testing.T, eng secondary.PipelineEngine) (*harness, cli.Deps) {
	t.Helper()

	h := &harness{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	log := logger.Discard()
	prefs := &config.Preferences{TempDir: t.TempDir()}
	deps := cli.Deps{
		Batch:      app.NewBatchService("cellbatch", openStore, h.out, log),
		Run:        app.NewRunService(prefs, eng, openStore, log),
		Prefs:      prefs,
		Downloader: fetch.New(prefs.TempDir, log),
		Log:        log,
		Stderr:     h.errOut,
	}
	return h, deps
}

func (h *harness) execute(t *testing.T, deps cli.Deps, args ...string) error {
	t.Helper()

	cmd := cli.NewRootCmd(deps, &h.exitCode)
	cmd.SetOut(h.out)
	cmd.SetErr(h.errOut)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func newBatchFile(t *testing.T) (string, *sqlite.BatchWriter) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "Batch_data.db")
	w, err := sqlite.Create(path)
	if err != nil {
		t.Fatalf("failed to create batch file: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return path, w
}

func seedImages(t *testing.T, w *sqlite.BatchWriter, count int) {
	t.Helper()

	ctx := context.Background()
	for n := 1; n <= count; n++ {
		if err := w.SetImageFeature(ctx, n, "URL_Image", "x.tif"); err != nil {
			t.Fatalf("failed to seed image %d: %v", n, err)
		}
	}
}

func writePipeline(t *testing.T, path string) {
	t.Helper()

	text := "name: test\nmodules:\n  - name: LoadImages\n"
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("failed to write pipeline: %v", err)
	}
}

func TestRoot_GetBatchCommands(t *testing.T) {
	path, w := newBatchFile(t)
	seedImages(t, w, 6)

	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	if err := h.execute(t, deps, "--get-batch-commands", path, "--images-per-batch", "2"); err != nil {
		t.Fatalf("command failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d command lines, want 3:\n%s", len(lines), h.out.String())
	}
	want := "cellbatch -c -r -p " + path + " -f 1 -l 2"
	if lines[0] != want {
		t.Errorf("first command = %q, want %q", lines[0], want)
	}
}

func TestRoot_LenientImagesPerBatch(t *testing.T) {
	path, w := newBatchFile(t)
	seedImages(t, w, 3)

	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	if err := h.execute(t, deps, "--get-batch-commands-new", path, "--images-per-batch", "three"); err != nil {
		t.Fatalf("command failed: %v", err)
	}

	// An unparsable value falls back to one image set per job.
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("got %d command lines, want 3 singleton jobs", len(lines))
	}
}

func TestRoot_PrintGroups(t *testing.T) {
	path, w := newBatchFile(t)
	ctx := context.Background()
	for n, row := range map[int]string{1: "A", 2: "A", 3: "B"} {
		if err := w.SetImageFeature(ctx, n, "Metadata_Row", row); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	if err := h.execute(t, deps, "--print-groups", path); err != nil {
		t.Fatalf("command failed: %v", err)
	}

	if !strings.Contains(h.out.String(), `"Row"`) {
		t.Errorf("grouping document missing the Row tag:\n%s", h.out.String())
	}
}

func TestRoot_MissingBatchFile(t *testing.T) {
	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	err := h.execute(t, deps, "--get-batch-commands", filepath.Join(t.TempDir(), "absent.db"))
	if err == nil {
		t.Fatal("expected an error for a missing batch file")
	}
}

func TestRoot_RunComplete(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipe.yaml")
	writePipeline(t, pipelinePath)

	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	if err := h.execute(t, deps, "-c", "-r", "-p", pipelinePath); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if h.exitCode != 0 {
		t.Errorf("exit code = %d, want 0", h.exitCode)
	}
}

func TestRoot_RunFailureExitCode(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipe.yaml")
	writePipeline(t, pipelinePath)

	h, deps := newHarness(t, &stubEngine{err: errors.New("module crashed")})
	if err := h.execute(t, deps, "-c", "-r", "-p", pipelinePath); err != nil {
		t.Fatalf("a failed run reports through the exit code, got error: %v", err)
	}
	if h.exitCode != 1 {
		t.Errorf("exit code = %d, want 1", h.exitCode)
	}
	if !strings.Contains(h.errOut.String(), "module crashed") {
		t.Errorf("stderr missing the engine error:\n%s", h.errOut.String())
	}
}

func TestRoot_RunConfigurationError(t *testing.T) {
	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	if err := h.execute(t, deps, "-c", "-r"); err == nil {
		t.Fatal("expected an error without a pipeline")
	}
}

func TestRoot_HelpWithoutMode(t *testing.T) {
	h, deps := newHarness(t, &stubEngine{status: measure.StatusComplete})
	if err := h.execute(t, deps); err != nil {
		t.Fatalf("bare invocation should print help: %v", err)
	}
	if !strings.Contains(h.out.String(), "Usage:") {
		t.Errorf("expected usage text, got:\n%s", h.out.String())
	}
}
