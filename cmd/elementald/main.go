// Command elementald is the Elemental workspace orchestrator daemon: it
// tracks tasks, dependencies and workflows in a content-addressable
// store, spawns agent subprocesses inside isolated git worktrees, and
// streams their events over HTTP+SSE.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/elemental/daemon/internal/daemon"
)

var version = "dev"

func main() {
	workspace := flag.String("workspace", "", "path to workspace directory")
	showVersion := flag.Bool("version", false, "show version")
	reset := flag.Bool("reset", false, "delete persisted daemon state for this workspace and exit")
	full := flag.Bool("full", false, "with --reset, also remove config.yaml, playbooks/, uploads/ and .worktrees/")
	flag.Parse()

	if *showVersion {
		fmt.Printf("elementald version %s\n", version)
		return
	}

	if *workspace == "" {
		fmt.Fprintln(os.Stderr, "error: --workspace is required")
		os.Exit(1)
	}

	if *reset {
		if err := daemon.Reset(*workspace, *full); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	d, err := daemon.New(*workspace, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
