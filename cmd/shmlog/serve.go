package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srediag/shmlog/adapter"
	"github.com/srediag/shmlog/pkg/coordinator"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		interval time.Duration
		opts     coordinator.Options
	)
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics, /live and /ready while running log rounds on an interval",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) (err error) {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := newEnv(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := e.Close(); err == nil {
					err = cerr
				}
			}()
			if addr == "" {
				addr = e.cfg.HTTP.Addr
			}

			health := adapter.NewHealth(e.mem, e.table, adapter.HealthOptions{
				MinFreeFrames: opts.Producers + 1,
				MinFreeSlots:  opts.Producers + 1,
			})
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}))
			mux.Handle("/live", health)
			mux.Handle("/ready", health)
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			ctx, cancelRounds := context.WithCancel(ctx)
			defer cancelRounds()
			errc := make(chan error, 1)
			go func() {
				e.logger.Info("listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errc <- err
					cancelRounds()
				}
				close(errc)
			}()

			runRounds(ctx, e, opts, interval)

			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdown); err != nil {
				return err
			}
			return <-errc
		},
	}
	f := c.Flags()
	f.StringVar(&addr, "addr", "", "listen address (default $SHMLOG_HTTP_ADDR)")
	f.DurationVar(&interval, "interval", 5*time.Second, "time between log rounds")
	f.IntVar(&opts.Producers, "producers", 4, "number of producer processes per round")
	f.IntVar(&opts.Messages, "messages", 5, "messages per producer")
	f.IntVar(&opts.Payload, "payload", 20, "payload bytes per message")
	return c
}

// runRounds runs a log round every interval until ctx is done.
func runRounds(ctx context.Context, e *env, opts coordinator.Options, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := e.coord.RunLog(ctx, opts); err != nil && ctx.Err() == nil {
			e.logger.Warn("log round failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
