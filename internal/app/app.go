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
	case "ingest":
		return runIngest(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "build", "run-once":
		return runBuild(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "queue":
		return runQueue(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "pulse CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pulse <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest   Validate and store feed item JSON files")
	fmt.Fprintln(os.Stderr, "  cluster  Assign unclustered items to near-duplicate clusters")
	fmt.Fprintln(os.Stderr, "  build    Build the selection for one cycle date")
	fmt.Fprintln(os.Stderr, "  run-once Alias for build")
	fmt.Fprintln(os.Stderr, "  worker   Poll the work queue and execute tasks")
	fmt.Fprintln(os.Stderr, "  queue    Enqueue tasks and inspect queue state")
	fmt.Fprintln(os.Stderr, "  serve    Start the Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"pulse <command> -h\" for command-specific flags.")
}
