// Command vsicat exercises the vsicurl package end to end: it opens an
// http(s)/ftp URL through a FileSystem and either streams it to stdout or
// reports its size and kind.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		debug     bool
		readAhead bool
	)

	root := &cobra.Command{
		Use:   "vsicat",
		Short: "Stream or stat a remote resource through vsicurl-streaming",
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log wire-level HTTP traffic")
	root.PersistentFlags().BoolVar(&readAhead, "read-ahead", false, "wrap reads in a read-ahead cache")

	root.AddCommand(newCatCmd(&debug, &readAhead))
	root.AddCommand(newStatCmd(&debug))
	return root
}
