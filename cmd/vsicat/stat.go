package main

import (
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/docker/vsicurl-streaming/pkg/vsicurl"
)

func newStatCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <url>",
		Short: "Report the size and kind of a remote resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := vsicurl.NewFileSystem(vsicurl.WithDebug(*debug))

			res, err := fs.Stat(args[0], vsicurl.StatFlagSize)
			if err != nil {
				return err
			}

			kind := "file"
			if res.IsDirectory {
				kind = "directory"
			}
			cmd.Printf("%s\t%s\t%s\n", args[0], units.BytesSize(float64(res.Size)), kind)
			return nil
		},
	}
}
