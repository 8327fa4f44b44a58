package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is set at build time via -ldflags
var version = "dev"

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"import", "Index a directory of DICOM files", runImport},
	{"ls", "Print the indexed patients, studies and series", runList},
	{"browse", "Browse the index interactively", runBrowse},
	{"rm", "Remove a record and everything below it", runRemove},
	{"synth", "Write a synthetic DICOM archive", runSynth},
	{"config", "Print or initialise the configuration file", runConfig},
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "help", "--help", "-h":
		printHelp()
		return
	case "version", "--version":
		fmt.Printf("dicomshelf %s\n", version)
		return
	}

	for _, cmd := range commands {
		if cmd.name != os.Args[1] {
			continue
		}
		if err := cmd.run(os.Args[2:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", os.Args[1])
	printHelp()
	os.Exit(1)
}

func printHelp() {
	fmt.Println("dicomshelf")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("Index DICOM archives and browse them by patient, study, series and image.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dicomshelf <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, cmd := range commands {
		fmt.Printf("  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Common options:")
	fmt.Println("  --config <FILE>       Configuration file (default: ~/.dicomshelf/config.yaml)")
	fmt.Println("  --db <DIR>            Database directory, overrides database_directory")
	fmt.Println("  --memory              Keep the index in memory for this run only")
	fmt.Println("  --metrics-addr <ADDR> Serve Prometheus metrics on ADDR (e.g. ':9090')")
	fmt.Println("  --verbose             Log to stderr")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Write 2 patients with 3 series of 20 images each")
	fmt.Println("  dicomshelf synth --output ./archive --patients 2 --series 3 --images 20")
	fmt.Println()
	fmt.Println("  # Index it and print the tree")
	fmt.Println("  dicomshelf import ./archive")
	fmt.Println("  dicomshelf ls --depth 3")
	fmt.Println()
	fmt.Println("  # Import and browse in one go, without touching the database")
	fmt.Println("  dicomshelf browse --memory --import ./archive")
	fmt.Println()
	fmt.Println("  # Remove a study")
	fmt.Println("  dicomshelf rm study 1.2.826.0.1.3680043.8.498.42.1.1")
	fmt.Println()
	fmt.Println("Run 'dicomshelf <command> --help' for the options of a command.")
}
