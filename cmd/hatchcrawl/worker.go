package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hatchworks/hatchcrawl/internal/workerpool"
)

// workerCmd is the hidden subcommand the process backend re-execs the
// running binary with: one stateless JSON-lines worker
// speaking over its own stdin/stdout, sharing no memory with the
// coordinator or any other child.
var workerCmd = &cobra.Command{
	Use:    workerpool.WorkerSubcommand,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return workerpool.RunWorkerChild(os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
