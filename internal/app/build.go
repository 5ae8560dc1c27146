package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/TOOITW/morning-pulse/internal/cli"
	"github.com/TOOITW/morning-pulse/internal/orchestrator"
)

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	cycleDate := fs.String("cycle-date", defaultUTCDayString(), "Cycle date (YYYY-MM-DD, UTC)")
	degradedOK := fs.Bool("degraded-ok", false, "Fall back to a degraded selection if the build fails")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "build does not accept positional arguments")
		return 2
	}

	day, err := parseUTCDate(*cycleDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --cycle-date: %v\n", err)
		return 2
	}

	ctx, cancel, rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	orch, _, err := rt.orchestrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build orchestrator: %v\n", err)
		return 1
	}

	sel, err := orch.RunCycle(ctx, day, orchestrator.CycleOptions{AllowDegraded: *degradedOK})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cycle build failed: %v\n", err)
		return 1
	}

	if err := printJSON(map[string]any{
		"selection_id": sel.SelectionID,
		"cycle_date":   sel.CycleDate.Format("2006-01-02"),
		"item_ids":     sel.ItemIDs,
		"degraded":     sel.Degraded,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	return 0
}
