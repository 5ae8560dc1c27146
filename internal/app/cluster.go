package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/TOOITW/morning-pulse/internal/cli"
)

func runCluster(args []string) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	limit := fs.Int("limit", 500, "Maximum number of items to assign")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "cluster does not accept positional arguments")
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}

	ctx, cancel, rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	service, err := rt.clusterService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build cluster service: %v\n", err)
		return 1
	}

	result, err := service.ClusterPending(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Clustering failed: %v\n", err)
		return 1
	}

	fmt.Printf("processed=%d joined=%d created=%d skipped=%d\n", result.Processed, result.Joined, result.Created, result.Skipped)
	return 0
}
