// Package coordinator runs whole rounds of the shared log protocol: a parent
// process allocates and initializes a page, forks its producers, lets each
// map the page through the system call boundary and drains what they write.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/srediag/shmlog/internal/logging"
	"github.com/srediag/shmlog/internal/metrics"
	"github.com/srediag/shmlog/pkg/config"
	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/shmlog"
	"github.com/srediag/shmlog/pkg/sys"
	"github.com/srediag/shmlog/pkg/vm"
)

// ErrSyscall is returned when a simulated system call reports failure.
var ErrSyscall = errors.New("system call failed")

// Coordinator owns the processes of a round. Rounds may run concurrently.
type Coordinator struct {
	table      *proc.Table
	kernel     *sys.Kernel
	pool       *ants.Pool
	logger     *zap.Logger
	logMetrics *metrics.Log
	drain      config.DrainConfig
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

// WithLogMetrics sets the collectors handed to every log page.
func WithLogMetrics(m *metrics.Log) Option {
	return func(c *Coordinator) { c.logMetrics = m }
}

// WithDrain sets the consumer backoff bounds.
func WithDrain(d config.DrainConfig) Option {
	return func(c *Coordinator) { c.drain = d }
}

// New returns a Coordinator creating processes in table, issuing system
// calls through kernel and running child processes on pool.
func New(table *proc.Table, kernel *sys.Kernel, pool *ants.Pool, opts ...Option) *Coordinator {
	c := &Coordinator{
		table:  table,
		kernel: kernel,
		pool:   pool,
		logger: zap.NewNop(),
		drain:  config.Default().Drain,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Options sizes a log round.
type Options struct {
	Producers int
	Messages  int
	// Payload is the length of every message. Zero uses 20 bytes.
	Payload int
}

// Report is the outcome of a log round.
type Report struct {
	Parent      int
	Children    []int
	Messages    []shmlog.Message
	PerProducer map[uint16]int
	// Dropped counts messages refused because the page was full.
	Dropped int
	Elapsed time.Duration
}

const defaultPayload = 20

// RunLog runs one round of opts.Producers children writing opts.Messages
// messages each into a page the parent drains.
func (c *Coordinator) RunLog(ctx context.Context, opts Options) (*Report, error) {
	if opts.Producers < 1 || opts.Producers > shmlog.MaxProducer || opts.Messages < 0 {
		return nil, fmt.Errorf("%w: producers %d messages %d", shmlog.ErrInvalidArgument, opts.Producers, opts.Messages)
	}
	if opts.Payload == 0 {
		opts.Payload = defaultPayload
	}
	if opts.Payload < 0 || opts.Payload > shmlog.MaxPayload {
		return nil, fmt.Errorf("%w: payload %d", shmlog.ErrInvalidArgument, opts.Payload)
	}

	start := time.Now()
	parent, err := c.table.Spawn("logger")
	if err != nil {
		return nil, err
	}
	defer c.exit(parent)

	va, err := c.table.Sbrk(parent, vm.PageSize)
	if err != nil {
		return nil, fmt.Errorf("allocate log page: %w", err)
	}
	page, err := c.page(parent, va)
	if err != nil {
		return nil, err
	}
	if err := page.Initialize(opts.Producers); err != nil {
		return nil, err
	}

	rep := &Report{Parent: parent, PerProducer: make(map[uint16]int)}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    error
		dropped int
	)
	fail := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	// Fork copies the parent's memory, the log page included, so every child
	// exists before any of them starts writing.
	for i := 1; i <= opts.Producers; i++ {
		child, err := c.table.Fork(parent)
		if err != nil {
			for j := i; j <= opts.Producers; j++ {
				_ = page.Retire(uint16(j))
			}
			fail(fmt.Errorf("fork producer %d: %w", i, err))
			break
		}
		rep.Children = append(rep.Children, child)
	}

	for i, child := range rep.Children {
		id, child := uint16(i+1), child
		wg.Add(1)
		task := func() {
			defer wg.Done()
			n, err := c.produce(ctx, parent, child, va, id, opts)
			if err != nil {
				fail(err)
			}
			mu.Lock()
			dropped += n
			mu.Unlock()
		}
		if err := c.pool.Submit(task); err != nil {
			wg.Done()
			_ = page.Retire(id)
			_ = c.table.Exit(child)
			fail(fmt.Errorf("start producer %d: %w", id, err))
		}
	}

	_, derr := page.Drain(ctx, c.drain, func(m shmlog.Message) {
		rep.Messages = append(rep.Messages, m)
		rep.PerProducer[m.Producer]++
	})
	wg.Wait()

	rep.Dropped = dropped
	rep.Elapsed = time.Since(start)
	c.logger.Info("log round finished",
		zap.Int("producers", opts.Producers),
		zap.Int("messages", len(rep.Messages)),
		zap.Int("dropped", rep.Dropped),
		zap.Duration("elapsed", rep.Elapsed))
	return rep, multierr.Combine(derr, errs)
}

// produce is the body of one child: map the parent's page, write, retire,
// unmap and exit. The producer is retired on every path so the parent's
// drain ends. It returns how many messages did not fit.
func (c *Coordinator) produce(ctx context.Context, parent, child int, va vm.VA, id uint16, opts Options) (dropped int, err error) {
	defer func() {
		err = multierr.Append(err, c.table.Exit(child))
	}()

	ret := c.kernel.MapSharedPagesSelf(ctx, child, parent, va, vm.PageSize)
	if ret == sys.Failed {
		c.retireFor(parent, va, id)
		return 0, fmt.Errorf("producer %d: map_shared_pages: %w", id, ErrSyscall)
	}
	view := vm.VA(ret)
	page, err := c.page(child, view)
	if err != nil {
		c.retireFor(parent, va, id)
		return 0, err
	}

	for n := 0; n < opts.Messages; n++ {
		if err := page.Produce(id, Payload(id, n, opts.Payload)); err != nil {
			if !errors.Is(err, shmlog.ErrCapacityExhausted) {
				_ = page.Retire(id)
				return 0, fmt.Errorf("producer %d: %w", id, err)
			}
			dropped = opts.Messages - n
			break
		}
	}
	if err := page.Retire(id); err != nil {
		return dropped, fmt.Errorf("producer %d: %w", id, err)
	}
	if c.kernel.UnmapSharedPagesSelf(ctx, child, view, vm.PageSize) == sys.Failed {
		return dropped, fmt.Errorf("producer %d: unmap_shared_pages: %w", id, ErrSyscall)
	}
	return dropped, nil
}

// retireFor retires id through the parent's own view, for a child that never
// got one.
func (c *Coordinator) retireFor(parent int, va vm.VA, id uint16) {
	page, err := c.page(parent, va)
	if err == nil {
		err = page.Retire(id)
	}
	c.logger.Warn("producer retired by parent", zap.Uint16("producer", id), zap.Error(err))
}

// page returns a log page over the frame pid maps at va. The view stays
// valid for as long as pid, or any other mapping, holds the frame.
func (c *Coordinator) page(pid int, va vm.VA) (*shmlog.Page, error) {
	var view []byte
	err := c.withAddressSpace(pid, func(as *vm.AddressSpace) error {
		var err error
		view, err = as.PageView(va)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shmlog.NewPage(view, shmlog.WithMetrics(c.logMetrics), shmlog.WithLogger(c.logger))
}

func (c *Coordinator) exit(pid int) {
	if err := c.table.Exit(pid); err != nil {
		c.logger.Warn("exit", zap.Int("pid", pid), zap.Error(err))
	}
}

// Payload returns message n of producer id as exactly size bytes: the text
// is padded with dots or cut short.
func Payload(id uint16, n, size int) []byte {
	msg := []byte(fmt.Sprintf("child %d msg %02d", id, n))
	for len(msg) < size {
		msg = append(msg, '.')
	}
	return msg[:size]
}
