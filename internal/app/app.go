package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "exact":
		return runExact(args[1:])
	case "fuzzy":
		return runFuzzy(args[1:])
	case "run":
		return runPipeline(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "corpusdedup CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  corpusdedup <command> [flags] [document paths...]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify the coordination store can be opened")
	fmt.Fprintln(os.Stderr, "  exact    Drop lines that occur more than once across all documents")
	fmt.Fprintln(os.Stderr, "  fuzzy    Drop near-duplicate documents and write the compressed output stream")
	fmt.Fprintln(os.Stderr, "  run      Run exact then fuzzy dedup in sequence")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"corpusdedup <command> -h\" for command-specific flags.")
}
