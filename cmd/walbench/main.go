// Command walbench drives a wal.Log under synthetic load and reports
// latency and throughput statistics, in the spirit of the reference
// disk_benchmark tool but exercising the segment-rotation ring instead of
// a single raw file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "walbench",
		Short: "Exercise and benchmark the write-ahead log",
	}
	root.AddCommand(newBenchCommand())
	return root
}
