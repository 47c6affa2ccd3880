package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/docker/vsicurl-streaming/pkg/vsicurl"
)

func newCatCmd(debug, readAhead *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <url>",
		Short: "Stream a remote resource to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []vsicurl.Option{vsicurl.WithDebug(*debug)}
			if *readAhead {
				opts = append(opts, vsicurl.WithReadAhead(0))
			}
			fs := vsicurl.NewFileSystem(opts...)

			h, err := fs.Open(args[0], os.O_RDONLY)
			if err != nil {
				return err
			}
			defer h.Close()

			_, err = io.Copy(cmd.OutOrStdout(), h)
			return err
		},
	}
}
