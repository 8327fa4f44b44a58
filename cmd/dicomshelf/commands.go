package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/mrsinham/dicomshelf/cmd/dicomshelf/tui"
	"github.com/mrsinham/dicomshelf/internal/config"
	"github.com/mrsinham/dicomshelf/internal/dicom"
	"github.com/mrsinham/dicomshelf/internal/dicom/edgecases"
	"github.com/mrsinham/dicomshelf/internal/dicom/modalities"
	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/importer"
	"github.com/mrsinham/dicomshelf/internal/viewmodel"
)

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  dicomshelf %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func runImport(args []string) error {
	fs := newFlagSet("import", "[options] <directory>")
	var sf shelfFlags
	sf.register(fs)
	list := fs.Bool("list", false, "Print the index tree once the import is done")
	quiet := fs.Bool("quiet", false, "Do not print the import summary")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("import needs exactly one directory")
	}

	cfg, err := sf.config()
	if err != nil {
		return err
	}
	if *quiet {
		cfg.DisplayImportSummary = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, closeShelf, err := sf.open(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer closeShelf()

	if !*quiet {
		fmt.Println("dicomshelf")
		fmt.Println("==========")
		fmt.Printf("Importing %s\n\n", fs.Arg(0))
	}

	sub := b.Subscribe()
	defer sub.Unsubscribe()
	h, err := b.ImportDirectory(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	loopCtx, done := context.WithCancel(context.Background())
	defer done()
	_ = b.Run(loopCtx, sub, func(ev events.Event) {
		switch ev := ev.(type) {
		case importer.SchemaUpgradeProgress:
			if !*quiet {
				fmt.Printf("Upgrading index schema (%d/%d)\n", ev.Step, ev.Total)
			}
		case importer.ImportFinished:
			done()
		}
	})

	if _, err := h.Wait(); err != nil {
		return err
	}
	if *list {
		fmt.Println()
		return printTree(ctx, os.Stdout, b.View(), hierarchy.Root, 0, 4)
	}
	return nil
}

func runList(args []string) error {
	fs := newFlagSet("ls", "[options]")
	var sf shelfFlags
	sf.register(fs)
	depth := fs.Int("depth", 3, "Levels to print: 1 patients, 2 studies, 3 series, 4 images")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *depth < 1 || *depth > 4 {
		return fmt.Errorf("--depth must be between 1 and 4, got %d", *depth)
	}

	cfg, err := sf.config()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, closeShelf, err := sf.open(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer closeShelf()
	return printTree(ctx, os.Stdout, b.View(), hierarchy.Root, 0, *depth)
}

// printTree prints the rows below node, indenting each level by two spaces.
func printTree(ctx context.Context, w io.Writer, view *viewmodel.Model, node hierarchy.Node, depth, maxDepth int) error {
	rows, err := view.Rows(ctx, node)
	if err != nil {
		return err
	}
	if depth == 0 && len(rows) == 0 {
		fmt.Fprintln(w, "Index is empty.")
		return nil
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s", strings.Repeat("  ", depth), row.Label)
		if row.Node.Level == hierarchy.LevelSeries {
			fmt.Fprintf(w, " [%d images]", row.ChildCount)
		}
		fmt.Fprintln(w)
		if depth+1 < maxDepth {
			if err := printTree(ctx, w, view, row.Node, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

func runBrowse(args []string) error {
	fs := newFlagSet("browse", "[options]")
	var sf shelfFlags
	sf.register(fs)
	importRoot := fs.String("import", "", "Directory to import when the browser starts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := sf.config()
	if err != nil {
		return err
	}
	// The summary would draw over the terminal UI.
	cfg.DisplayImportSummary = false

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	b, closeShelf, err := sf.open(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer closeShelf()

	return tui.Run(ctx, b, tui.Options{ImportRoot: *importRoot, Tags: cfg.TagsToPrecache})
}

var levelNames = map[string]hierarchy.Level{
	"patient":  hierarchy.LevelPatient,
	"study":    hierarchy.LevelStudy,
	"series":   hierarchy.LevelSeries,
	"instance": hierarchy.LevelInstance,
}

func runRemove(args []string) error {
	fs := newFlagSet("rm", "[options] <patient|study|series|instance> <id>")
	var sf shelfFlags
	sf.register(fs)
	yes := fs.Bool("yes", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("rm needs a level and an id")
	}
	level, ok := levelNames[strings.ToLower(fs.Arg(0))]
	if !ok {
		return fmt.Errorf("unknown level %q, valid levels: patient, study, series, instance", fs.Arg(0))
	}
	node := hierarchy.Node{Level: level, ID: fs.Arg(1)}

	cfg, err := sf.config()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, closeShelf, err := sf.open(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer closeShelf()

	row, err := b.View().Row(ctx, node)
	if err != nil {
		return err
	}

	if !*yes {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return errors.New("refusing to remove without --yes when stdin is not a terminal")
		}
		var confirmed bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Remove %s %q and everything below it?", level, row.Label)).
			Affirmative("Remove").
			Negative("Keep").
			Value(&confirmed).
			Run()
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Nothing removed.")
			return nil
		}
	}

	if err := b.Remove(ctx, node); err != nil {
		return err
	}
	fmt.Printf("✓ Removed %s %s\n", level, row.Label)
	return nil
}

func runSynth(args []string) error {
	fs := newFlagSet("synth", "[options]")
	output := fs.String("output", "dicom_archive", "Output directory")
	patients := fs.Int("patients", 1, "Number of patients")
	studies := fs.Int("studies", 1, "Studies per patient")
	series := fs.Int("series", 1, "Series per study")
	images := fs.Int("images", 10, "Images per series")
	modality := fs.String("modality", "MR", fmt.Sprintf("Imaging modality: %v", modalities.AllModalities()))
	seed := fs.Uint64("seed", 0, "Seed for reproducibility (random if 0)")
	size := fs.Int("size", 64, "Image edge length in pixels")
	workers := fs.Int("workers", 0, fmt.Sprintf("Number of parallel workers (default: %d = CPU cores)", runtime.NumCPU()))
	edgeKinds := fs.String("edge-cases", "", fmt.Sprintf("Comma-separated edge cases: %v or 'all'", edgecases.AllKinds()))
	edgePct := fs.Int("edge-case-pct", 10, "Percentage of records affected by --edge-cases")
	if err := fs.Parse(args); err != nil {
		return err
	}

	for name, v := range map[string]int{"patients": *patients, "studies": *studies, "series": *series, "images": *images, "size": *size} {
		if v <= 0 {
			return fmt.Errorf("--%s must be > 0", name)
		}
	}
	if !modalities.IsValid(strings.ToUpper(*modality)) {
		return fmt.Errorf("invalid modality %q, valid options: %v", *modality, modalities.AllModalities())
	}
	kinds, err := edgecases.ParseKinds(*edgeKinds)
	if err != nil {
		return err
	}
	edges := edgecases.Config{Kinds: kinds}
	if len(kinds) > 0 {
		edges.Percentage = *edgePct
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout := dicom.UniformLayout(*patients, *studies, *series, *images)
	files, err := dicom.WriteArchive(ctx, *output, layout, dicom.ArchiveOptions{
		Modality:  modalities.Parse(*modality),
		Seed:      *seed,
		Size:      *size,
		Workers:   *workers,
		EdgeCases: edges,
	})
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	p, st, se, _ := layout.Counts()
	fmt.Println("✓ Generation complete!")
	fmt.Printf("  Files:     %d\n", len(files))
	fmt.Printf("  Hierarchy: %d patients, %d studies, %d series\n", p, st, se)
	fmt.Printf("  Import directory: %s\n", *output)
	return nil
}

func runConfig(args []string) error {
	fs := newFlagSet("config", "[--init] [--force] [--config FILE]")
	path := fs.String("config", defaultConfigPath(), "Configuration file")
	initFile := fs.Bool("init", false, "Write the default configuration to the file")
	force := fs.Bool("force", false, "Overwrite an existing file with --init")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *initFile {
		if _, err := os.Stat(*path); err == nil && !*force {
			return fmt.Errorf("%s already exists, use --force to overwrite it", *path)
		}
		if err := config.SaveToYAML(config.Default(), *path); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", *path)
		return nil
	}

	cfg, err := config.LoadOrDefault(*path)
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s", *path, data)
	return nil
}
