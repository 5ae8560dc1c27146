package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/TOOITW/morning-pulse/internal/cli"
	"github.com/TOOITW/morning-pulse/internal/ingest"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pulse ingest [flags] <payload.json> [payload.json ...]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "ingest requires at least one payload file")
		return 2
	}

	ctx, cancel, rt, err := connect(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	service := ingest.NewService(rt.pool, rt.logger)

	inserted := 0
	skipped := 0
	for _, path := range fs.Args() {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
			return 1
		}

		outcome, err := service.Ingest(ctx, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to ingest %s: %v\n", path, err)
			return 1
		}
		if outcome.Inserted {
			inserted++
		} else {
			skipped++
			fmt.Fprintf(os.Stderr, "Skipped duplicate %s (item_id=%d)\n", path, outcome.ItemID)
		}
	}

	fmt.Printf("inserted=%d skipped=%d\n", inserted, skipped)
	return 0
}
