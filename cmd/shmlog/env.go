package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srediag/shmlog/adapter"
	"github.com/srediag/shmlog/internal/logging"
	"github.com/srediag/shmlog/internal/metrics"
	"github.com/srediag/shmlog/pkg/config"
	"github.com/srediag/shmlog/pkg/coordinator"
	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/shm"
	"github.com/srediag/shmlog/pkg/sys"
	"github.com/srediag/shmlog/pkg/vm"
)

// Global flags. Zero values leave the environment settings alone.
var (
	logLevel   string
	devLogs    bool
	arenaPages int
	maxProcs   int
	devShm     bool
)

func applyGlobalFlags(c *cobra.Command) {
	f := c.PersistentFlags()
	f.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&devLogs, "dev", false, "human readable console logs")
	f.IntVar(&arenaPages, "arena-pages", 0, "physical frames in the arena")
	f.IntVar(&maxProcs, "max-procs", 0, "process table entries")
	f.BoolVar(&devShm, "dev-shm", false, "back the arena with a uniquely named /dev/shm file")
}

// env is everything one command invocation runs on.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	mem      *vm.PhysMem
	table    *proc.Table
	kernel   *sys.Kernel
	pool     *ants.Pool
	coord    *coordinator.Coordinator
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if devLogs {
		cfg.Logging.Development = true
	}
	if arenaPages > 0 {
		cfg.Arena.Pages = arenaPages
	}
	if maxProcs > 0 {
		cfg.Kernel.MaxProcs = maxProcs
	}
	if devShm && cfg.Arena.Name == "" {
		cfg.Arena.Name = "shmlog-" + uuid.NewString()
	}
	return cfg, config.Verify(cfg)
}

func newEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e.mem, err = vm.NewPhysMem(ctx, cfg.Arena.Pages, cfg.Arena.Name)
	if err != nil {
		return nil, err
	}
	e.table = proc.NewTable(e.mem, cfg.Kernel.MaxProcs, vm.VA(cfg.Kernel.MaxVA), logger.Named("proc"))
	mapper := shm.NewMapper(e.table,
		shm.WithLogger(logger.Named("shm")),
		shm.WithMetrics(metrics.NewMapper(e.registry)),
		shm.WithTracer(adapter.Tracer()),
		shm.WithMeter(adapter.Meter()))
	e.kernel = sys.New(mapper, logger.Named("sys"))

	e.pool, err = ants.NewPool(cfg.Kernel.MaxProcs, ants.WithPanicHandler(func(p any) {
		logger.Error("producer panicked", zap.Any("panic", p))
	}))
	if err != nil {
		_ = e.mem.Close()
		return nil, err
	}
	e.coord = coordinator.New(e.table, e.kernel, e.pool,
		coordinator.WithLogger(logger.Named("coordinator")),
		coordinator.WithLogMetrics(metrics.NewLog(e.registry)),
		coordinator.WithDrain(cfg.Drain))

	logger.Debug("environment ready",
		zap.Int("arena_pages", cfg.Arena.Pages),
		zap.String("arena_name", cfg.Arena.Name),
		zap.Int("max_procs", cfg.Kernel.MaxProcs))
	return e, nil
}

func (e *env) Close() error {
	e.pool.Release()
	_ = e.logger.Sync()
	return e.mem.Close()
}
