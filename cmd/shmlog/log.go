package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/srediag/shmlog/pkg/coordinator"
)

func newLogCmd() *cobra.Command {
	var (
		opts  coordinator.Options
		quiet bool
	)
	c := &cobra.Command{
		Use:   "log",
		Short: "Run one round of producers writing into a shared log page",
		Example: `  # four producers, five messages each
  shmlog log --producers 4 --messages 5`,
		Args: cobra.NoArgs,
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

			rep, err := e.coord.RunLog(c.Context(), opts)
			if rep == nil {
				return err
			}
			out := c.OutOrStdout()
			if !quiet {
				for _, m := range rep.Messages {
					fmt.Fprintf(out, "producer %d: %s\n", m.Producer, m.Payload)
				}
			}
			ids := make([]int, 0, len(rep.PerProducer))
			for id := range rep.PerProducer {
				ids = append(ids, int(id))
			}
			sort.Ints(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "producer %d wrote %d messages\n", id, rep.PerProducer[uint16(id)])
			}
			fmt.Fprintf(out, "total %d messages, %d dropped, %s\n", len(rep.Messages), rep.Dropped, rep.Elapsed)
			return err
		},
	}
	f := c.Flags()
	f.IntVar(&opts.Producers, "producers", 4, "number of producer processes")
	f.IntVar(&opts.Messages, "messages", 5, "messages per producer")
	f.IntVar(&opts.Payload, "payload", 20, "payload bytes per message")
	f.BoolVarP(&quiet, "quiet", "q", false, "print only the per-producer summary")
	return c
}
