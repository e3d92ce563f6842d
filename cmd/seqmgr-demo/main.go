// Command seqmgr-demo runs a SequenceManager thread with a small mixed
// priority workload and exposes its metrics.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "seqmgr-demo",
		Usage: "drive a sequence manager thread with a demo workload",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (SEQMGR_* environment variables override it)",
				EnvVars: []string{"SEQMGR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			describeCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
