package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srediag/shmlog/pkg/coordinator"
)

func newShareCmd() *cobra.Command {
	var opts coordinator.ShareOptions
	c := &cobra.Command{
		Use:   "share",
		Short: "Map a parent's page into a forked child and read back what the child wrote",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) (err error) {
			e, err := newEnv(c.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := e.Close(); err == nil {
					err = cerr
				}
			}()

			rep, err := e.coord.RunShare(c.Context(), opts)
			if rep != nil {
				printShare(c.OutOrStdout(), rep)
			}
			return err
		},
	}
	c.Flags().BoolVar(&opts.DisableUnmap, "no-unmap", false, "leave the view mapped when the child exits")
	c.Flags().StringVar(&opts.Greeting, "greeting", coordinator.DefaultGreeting, "string the child writes")
	return c
}

func printShare(w io.Writer, rep *coordinator.ShareReport) {
	fmt.Fprintf(w, "Child size: %d\n", rep.ChildSize)
	fmt.Fprintf(w, "Child size after shared memory: %d\n", rep.SizeAfterMap)
	if rep.Unmapped {
		fmt.Fprintf(w, "Child size after unmap: %d\n", rep.SizeAfterUnmap)
	}
	fmt.Fprintf(w, "Child size after sbrk: %d\n", rep.SizeAfterSbrk)
	fmt.Fprintf(w, "%s\n", rep.ParentRead)
}
