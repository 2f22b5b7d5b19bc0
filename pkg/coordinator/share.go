package coordinator

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/sys"
	"github.com/srediag/shmlog/pkg/vm"
)

// DefaultGreeting is what the child writes when ShareOptions leaves it empty.
const DefaultGreeting = "Hello daddy"

// ShareOptions configures a shared-buffer round.
type ShareOptions struct {
	// DisableUnmap leaves the view mapped when the child exits.
	DisableUnmap bool
	Greeting     string
}

// ShareReport records the child's heap top at each step and what the parent
// read back.
type ShareReport struct {
	ChildSize      vm.VA
	SizeAfterMap   vm.VA
	SizeAfterUnmap vm.VA
	SizeAfterSbrk  vm.VA
	View           vm.VA
	Unmapped       bool
	ParentRead     string
	PrunedMappings int
}

// RunShare runs one shared-buffer round: the parent allocates a page and
// forks; the child maps the parent's page, writes a greeting through its view,
// optionally unmaps it, grows its heap by a page and exits; the parent then
// reads the greeting from its own page.
func (c *Coordinator) RunShare(ctx context.Context, opts ShareOptions) (*ShareReport, error) {
	greeting := opts.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	if len(greeting) >= vm.PageSize {
		return nil, fmt.Errorf("greeting of %d bytes does not fit a page", len(greeting))
	}

	parent, err := c.table.Spawn("share")
	if err != nil {
		return nil, err
	}
	defer c.exit(parent)
	buf, err := c.table.Sbrk(parent, vm.PageSize)
	if err != nil {
		return nil, err
	}
	child, err := c.table.Fork(parent)
	if err != nil {
		return nil, err
	}

	rep := &ShareReport{}
	done := make(chan error, 1)
	task := func() {
		done <- c.shareChild(ctx, parent, child, buf, greeting, opts.DisableUnmap, rep)
	}
	if err := c.pool.Submit(task); err != nil {
		return nil, multierr.Append(err, c.table.Exit(child))
	}

	var cerr error
	select {
	case cerr = <-done:
	case <-ctx.Done():
		// The child still owns rep; leave it to finish on its own.
		return nil, ctx.Err()
	}

	text, err := c.readString(parent, buf)
	if err != nil {
		return rep, multierr.Append(cerr, err)
	}
	rep.ParentRead = text
	if opts.DisableUnmap {
		rep.PrunedMappings = c.kernel.Mapper().Prune()
	}
	c.logger.Info("share round finished",
		zap.Bool("unmapped", rep.Unmapped),
		zap.Uint64("child_size", uint64(rep.ChildSize)),
		zap.Uint64("size_after_map", uint64(rep.SizeAfterMap)),
		zap.Uint64("size_after_sbrk", uint64(rep.SizeAfterSbrk)),
		zap.String("read", rep.ParentRead))
	return rep, cerr
}

func (c *Coordinator) shareChild(ctx context.Context, parent, child int, buf vm.VA, greeting string,
	keep bool, rep *ShareReport) (err error) {
	defer func() {
		err = multierr.Append(err, c.table.Exit(child))
	}()

	if rep.ChildSize, err = c.size(child); err != nil {
		return err
	}
	ret := c.kernel.MapSharedPages(ctx, child, parent, child, buf, vm.PageSize)
	if ret == sys.Failed {
		return fmt.Errorf("map_shared_pages: %w", ErrSyscall)
	}
	rep.View = vm.VA(ret)
	if rep.SizeAfterMap, err = c.size(child); err != nil {
		return err
	}

	if err := c.write(child, rep.View, append([]byte(greeting), 0)); err != nil {
		return err
	}

	if !keep {
		if c.kernel.UnmapSharedPages(ctx, child, child, rep.View, vm.PageSize) == sys.Failed {
			return fmt.Errorf("unmap_shared_pages: %w", ErrSyscall)
		}
		rep.Unmapped = true
		if rep.SizeAfterUnmap, err = c.size(child); err != nil {
			return err
		}
	}

	if _, err := c.table.Sbrk(child, vm.PageSize); err != nil {
		return err
	}
	rep.SizeAfterSbrk, err = c.size(child)
	return err
}

func (c *Coordinator) size(pid int) (vm.VA, error) {
	var sz vm.VA
	err := c.withAddressSpace(pid, func(as *vm.AddressSpace) error {
		sz = as.Size()
		return nil
	})
	return sz, err
}

func (c *Coordinator) write(pid int, va vm.VA, data []byte) error {
	return c.withAddressSpace(pid, func(as *vm.AddressSpace) error {
		return as.Write(va, data)
	})
}

// readString reads the NUL-terminated string at va, up to the end of its page.
func (c *Coordinator) readString(pid int, va vm.VA) (string, error) {
	var out string
	err := c.withAddressSpace(pid, func(as *vm.AddressSpace) error {
		b, err := as.Read(va, int(vm.PageRoundUp(va+1)-va))
		if err != nil {
			return err
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		out = string(b)
		return nil
	})
	return out, err
}

func (c *Coordinator) withAddressSpace(pid int, fn func(as *vm.AddressSpace) error) error {
	p, ok := c.table.Lookup(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", proc.ErrNotFound, pid)
	}
	return p.WithAddressSpace(fn)
}
