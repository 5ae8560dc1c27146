package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TOOITW/morning-pulse/internal/cli"
	"github.com/TOOITW/morning-pulse/internal/queue"
)

func runQueue(args []string) int {
	if len(args) == 0 {
		printQueueUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printQueueUsage()
		return 0
	case "enqueue":
		return runQueueEnqueue(args[1:])
	case "stats":
		return runQueueStats(args[1:])
	case "cleanup":
		return runQueueCleanup(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown queue subcommand: %s\n\n", args[0])
		printQueueUsage()
		return 2
	}
}

func printQueueUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pulse queue enqueue --type <cluster|rank_and_filter|build|cleanup> [flags]")
	fmt.Fprintln(os.Stderr, "  pulse queue stats [flags]")
	fmt.Fprintln(os.Stderr, "  pulse queue cleanup [flags]")
}

func runQueueEnqueue(args []string) int {
	fs := flag.NewFlagSet("queue enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")
	taskType := fs.String("type", "", "Task type")
	cycleDate := fs.String("cycle-date", defaultUTCDayString(), "Cycle date for cluster/rank_and_filter/build tasks")
	olderThanDays := fs.Int("older-than-days", 0, "Retention override for cleanup tasks")
	delay := fs.Duration("delay", 0, "Schedule the task this far in the future")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "queue enqueue does not accept positional arguments")
		return 2
	}

	var payload any
	switch strings.TrimSpace(*taskType) {
	case queue.TypeCluster:
		payload = queue.ClusterPayload{CycleDate: *cycleDate}
	case queue.TypeRankAndFilter:
		payload = queue.RankAndFilterPayload{CycleDate: *cycleDate}
	case queue.TypeBuild:
		payload = queue.BuildPayload{CycleDate: *cycleDate}
	case queue.TypeCleanup:
		payload = queue.CleanupPayload{OlderThanDays: *olderThanDays}
	default:
		fmt.Fprintf(os.Stderr, "--type must be one of cluster, rank_and_filter, build, cleanup\n")
		return 2
	}

	ctx, cancel, rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	opts := queue.EnqueueOptions{}
	if *delay > 0 {
		opts.ScheduledFor = time.Now().UTC().Add(*delay)
	}

	taskID, err := rt.workQueue().Enqueue(ctx, strings.TrimSpace(*taskType), payload, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enqueue task: %v\n", err)
		return 1
	}

	fmt.Printf("task_id=%d\n", taskID)
	return 0
}

func runQueueStats(args []string) int {
	fs := flag.NewFlagSet("queue stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel, rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	stats, err := rt.workQueue().Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query queue stats: %v\n", err)
		return 1
	}

	if err := printJSON(stats); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	return 0
}

func runQueueCleanup(args []string) int {
	fs := flag.NewFlagSet("queue cleanup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	olderThanDays := fs.Int("older-than-days", 0, "Delete terminal tasks older than this many days (0 = configured retention)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel, rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	q := rt.workQueue()
	deleted, err := q.Cleanup(ctx, *olderThanDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clean up tasks: %v\n", err)
		return 1
	}
	reclaimed, err := q.ReclaimExpired(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reclaim expired leases: %v\n", err)
		return 1
	}

	svc, err := rt.clusterService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build cluster service: %v\n", err)
		return 1
	}
	emptied, err := svc.DeleteEmptyClusters(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to delete empty clusters: %v\n", err)
		return 1
	}

	fmt.Printf("tasks_deleted=%d leases_reclaimed=%d clusters_deleted=%d\n", deleted, reclaimed, emptied)
	return 0
}
