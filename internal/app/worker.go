package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TOOITW/morning-pulse/internal/cli"
	"github.com/TOOITW/morning-pulse/internal/orchestrator"
)

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	connectTimeout := fs.Duration("connect-timeout", 30*time.Second, "Database connect timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "worker does not accept positional arguments")
		return 2
	}

	rt, err := connectBackground(envLoader, *connectTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.pool.Close()

	orch, clusterSvc, err := rt.orchestrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build orchestrator: %v\n", err)
		return 1
	}

	worker, err := orchestrator.NewWorker(
		rt.workQueue(),
		orch,
		clusterSvc,
		orchestrator.WorkerConfig{PollInterval: rt.cfg.WorkerPollInterval},
		rt.logger,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build worker: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Worker stopped with error: %v\n", err)
		return 1
	}
	return 0
}
