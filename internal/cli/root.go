// Package cli implements the cellbatch command-line surface.
//
// The tool is a single command: batch inspection modes are selected by
// flags rather than subcommands so that the command lines this program
// itself emits for cluster jobs stay valid invocations.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/cellbatch/internal/adapters/fetch"
	"github.com/example/cellbatch/internal/app"
	"github.com/example/cellbatch/internal/config"
	"github.com/example/cellbatch/internal/version"
	"github.com/example/cellbatch/internal/wire"
)

// Deps carries the services the root command dispatches to. Tests
// inject fakes here; Execute wires the real ones.
type Deps struct {
	Batch      *app.BatchService
	Run        *app.RunService
	Prefs      *config.Preferences
	Downloader *fetch.Downloader
	Log        *slog.Logger
	Stderr     io.Writer
}

type rootFlags struct {
	pipeline         string
	headless         bool
	run              bool
	outputDir        string
	imageDir         string
	firstImageSet    string
	lastImageSet     string
	groupSpec        string
	imagesPerBatch   string
	batchCommands    string
	batchCommandsNew string
	printGroups      string
	doneFile         string
	fileList         string
	dataFile         string
	tempDir          string
	pluginsDir       string
	alwaysContinue   bool
	conserveMemory   bool
}

// NewRootCmd builds the root command, storing the process exit code in
// *exitCode when a headless run finishes with a non-zero status.
func NewRootCmd(deps Deps, exitCode *int) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:     "cellbatch",
		Short:   "Partition image sets into cluster jobs and run pipelines headless",
		Version: version.String(),
		Long: `cellbatch splits the image sets recorded in a batch data file into
cluster job command lines, inspects their grouping structure, and runs
pipelines headless over a selected slice of image sets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, flags, deps, exitCode)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.pipeline, "pipeline", "p", "", "pipeline or batch data file to load")
	f.BoolVarP(&flags.headless, "run-headless", "c", false, "run without a display")
	f.BoolVarP(&flags.run, "run", "r", false, "run the loaded pipeline")
	f.StringVarP(&flags.outputDir, "output-directory", "o", "", "default output folder")
	f.StringVarP(&flags.imageDir, "image-directory", "i", "", "default image folder")
	f.StringVarP(&flags.firstImageSet, "first-image-set", "f", "", "first image set to process")
	f.StringVarP(&flags.lastImageSet, "last-image-set", "l", "", "last image set to process")
	f.StringVarP(&flags.groupSpec, "group", "g", "", "restrict processing to one group, e.g. metadata_Plate=P1")
	f.StringVar(&flags.imagesPerBatch, "images-per-batch", "1", "image sets per job for batch command listings")
	f.StringVar(&flags.batchCommands, "get-batch-commands", "", "print jobs for the batch data file using grouped ranges when present")
	f.StringVar(&flags.batchCommandsNew, "get-batch-commands-new", "", "print jobs for the batch data file honoring images-per-batch")
	f.StringVar(&flags.printGroups, "print-groups", "", "print the image set groupings of the batch data file as JSON")
	f.StringVarP(&flags.doneFile, "done-file", "d", "", "file to write the run status to on completion")
	f.StringVar(&flags.fileList, "file-list", "", "text file of image paths, one per line")
	f.StringVar(&flags.dataFile, "data-file", "", "input data file for LoadData")
	f.StringVarP(&flags.tempDir, "temporary-directory", "t", "", "directory for temporary files")
	f.StringVar(&flags.pluginsDir, "plugins-directory", "", "directory of plugin modules")
	f.BoolVar(&flags.alwaysContinue, "always-continue", false, "keep processing after image set errors")
	f.BoolVar(&flags.conserveMemory, "conserve-memory", false, "release unused memory after each image set")

	return cmd
}

func dispatch(cmd *cobra.Command, flags *rootFlags, deps Deps, exitCode *int) error {
	ctx := cmd.Context()

	switch {
	case flags.printGroups != "":
		return deps.Batch.InspectGroups(ctx, flags.printGroups)
	case flags.batchCommands != "":
		return deps.Batch.PartitionLegacy(ctx, flags.batchCommands, perJob(flags, deps))
	case flags.batchCommandsNew != "":
		return deps.Batch.PartitionCurrent(ctx, flags.batchCommandsNew, perJob(flags, deps))
	case flags.run:
		return runHeadless(cmd, flags, deps, exitCode)
	}
	return cmd.Help()
}

// perJob parses --images-per-batch leniently: a value that is not a
// whole number is reported and treated as 1 so that job listing still
// proceeds.
func perJob(flags *rootFlags, deps Deps) int {
	n, err := strconv.Atoi(flags.imagesPerBatch)
	if err != nil {
		deps.Log.Warn("images-per-batch is not a number, using 1",
			"value", flags.imagesPerBatch)
		return 1
	}
	return n
}

func runHeadless(cmd *cobra.Command, flags *rootFlags, deps Deps, exitCode *int) error {
	ctx := cmd.Context()
	prefs := deps.Prefs

	if flags.tempDir != "" {
		prefs.TempDir = config.ExpandUser(flags.tempDir)
	}
	if flags.pluginsDir != "" {
		prefs.PluginsDir = config.ExpandUser(flags.pluginsDir)
	}
	if cmd.Flags().Changed("always-continue") {
		prefs.AlwaysContinue = flags.alwaysContinue
	}
	if cmd.Flags().Changed("conserve-memory") {
		prefs.ConserveMemory = flags.conserveMemory
	}
	if _, err := prefs.EnsureTempDir(); err != nil {
		return fmt.Errorf("failed to prepare temp directory: %w", err)
	}

	if flags.outputDir != "" {
		flags.outputDir = config.ExpandUser(flags.outputDir)
		if err := os.MkdirAll(flags.outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		prefs.DefaultOutputDir = flags.outputDir
	}
	if flags.imageDir != "" {
		flags.imageDir = config.ExpandUser(flags.imageDir)
		prefs.DefaultImageDir = flags.imageDir
	}

	// Remote inputs are fetched into the temp directory and removed
	// again after the run.
	dl := deps.Downloader
	defer dl.Cleanup()

	pipelinePath, err := dl.Localize(ctx, flags.pipeline, ".cbpipe")
	if err != nil {
		return fmt.Errorf("failed to fetch pipeline: %w", err)
	}
	if flags.fileList != "" {
		prefs.ImageSetFile, err = dl.Localize(ctx, flags.fileList, ".txt")
		if err != nil {
			return fmt.Errorf("failed to fetch file list: %w", err)
		}
	}
	if flags.dataFile != "" {
		prefs.DataFile, err = dl.Localize(ctx, flags.dataFile, ".csv")
		if err != nil {
			return fmt.Errorf("failed to fetch data file: %w", err)
		}
	}

	outcome, err := deps.Run.Run(ctx, app.RunRequest{
		PipelinePath:  pipelinePath,
		FirstImageSet: flags.firstImageSet,
		LastImageSet:  flags.lastImageSet,
		GroupSpec:     flags.groupSpec,
		OutputDir:     flags.outputDir,
		ImageDir:      flags.imageDir,
		DoneFile:      flags.doneFile,
	})
	if outcome != nil {
		*exitCode = outcome.ExitCode
	}
	if err != nil {
		if outcome == nil {
			return err
		}
		// The outcome already carries the exit code; report the error
		// without overriding it.
		color.New(color.FgRed).Fprintf(deps.Stderr, "Error: %v\n", err)
		return nil
	}
	return nil
}

// Execute runs the root command with production wiring and returns the
// process exit code.
func Execute() int {
	deps := Deps{
		Batch:      wire.BatchService(),
		Run:        wire.RunService(),
		Prefs:      wire.Preferences(),
		Downloader: wire.Downloader(),
		Log:        wire.Logger(),
		Stderr:     os.Stderr,
	}

	exitCode := 0
	cmd := NewRootCmd(deps, &exitCode)
	if err := cmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}
