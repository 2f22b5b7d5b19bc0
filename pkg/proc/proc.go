// Package proc is the process table behind the shared-mapping syscalls.
package proc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/srediag/shmlog/api"
	"github.com/srediag/shmlog/internal/logging"
	"github.com/srediag/shmlog/pkg/vm"
)

var (
	// ErrNotFound is returned when a pid does not name a live process.
	ErrNotFound = errors.New("no such process")
	// ErrNoSlot is returned when the process table is full.
	ErrNoSlot = errors.New("process table full")
)

// State is the lifecycle state of a table entry.
type State int

const (
	Unused State = iota
	Runnable
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Proc is one process table entry.
type Proc struct {
	mu    sync.Mutex
	pid   int
	name  string
	state State
	as    *vm.AddressSpace
}

// Table is a fixed-size process table. Every entry carries its own lock and
// no lock covers the whole table.
type Table struct {
	procs   []Proc
	mem     *vm.PhysMem
	limit   vm.VA
	nextPID atomic.Int64
	logger  *zap.Logger
}

// NewTable returns a table of size entries whose processes allocate from mem
// and may not grow past limit.
func NewTable(mem *vm.PhysMem, size int, limit vm.VA, logger *zap.Logger) *Table {
	return &Table{
		procs:  make([]Proc, size),
		mem:    mem,
		limit:  limit,
		logger: logging.OrNop(logger),
	}
}

// Spawn creates a process with an empty address space.
func (t *Table) Spawn(name string) (int, error) {
	return t.install(name, vm.NewAddressSpace(t.mem, t.limit))
}

// Fork creates a child holding a private copy of parent's address space.
func (t *Table) Fork(parent int) (int, error) {
	p, ok := t.find(parent)
	if !ok {
		return 0, fmt.Errorf("%w: pid %d", ErrNotFound, parent)
	}
	var (
		child *vm.AddressSpace
		name  string
	)
	h := &handle{p: p, pid: parent}
	err := h.WithAddressSpace(func(as *vm.AddressSpace) error {
		var err error
		child, err = as.Clone()
		name = p.name
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fork pid %d: %w", parent, err)
	}
	pid, err := t.install(name, child)
	if err != nil {
		child.Release()
		return 0, err
	}
	return pid, nil
}

func (t *Table) install(name string, as *vm.AddressSpace) (int, error) {
	for i := range t.procs {
		p := &t.procs[i]
		p.mu.Lock()
		if p.state == Unused {
			p.pid = int(t.nextPID.Add(1))
			p.name = name
			p.state = Runnable
			p.as = as
			pid := p.pid
			p.mu.Unlock()
			t.logger.Debug("process created", zap.Int("pid", pid), zap.String("name", name))
			return pid, nil
		}
		p.mu.Unlock()
	}
	return 0, ErrNoSlot
}

// Exit releases every page the process maps and frees its entry. Pages that
// other address spaces still reference stay allocated.
func (t *Table) Exit(pid int) error {
	p, ok := t.find(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Runnable || p.pid != pid {
		return fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	p.as.Release()
	p.as = nil
	p.state = Unused
	t.logger.Debug("process exited", zap.Int("pid", pid))
	return nil
}

// Sbrk grows or shrinks the heap of pid by n bytes and returns the old top.
func (t *Table) Sbrk(pid int, n int64) (vm.VA, error) {
	p, ok := t.Lookup(pid)
	if !ok {
		return 0, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	var old vm.VA
	err := p.WithAddressSpace(func(as *vm.AddressSpace) error {
		var err error
		old, err = as.Grow(n)
		return err
	})
	return old, err
}

// Lookup scans the table for pid, holding each entry's lock only while
// reading it.
func (t *Table) Lookup(pid int) (api.Process, bool) {
	p, ok := t.find(pid)
	if !ok {
		return nil, false
	}
	return &handle{p: p, pid: pid}, true
}

func (t *Table) find(pid int) (*Proc, bool) {
	for i := range t.procs {
		p := &t.procs[i]
		p.mu.Lock()
		match := p.state != Unused && p.pid == pid
		p.mu.Unlock()
		if match {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of live processes.
func (t *Table) Len() int {
	n := 0
	for i := range t.procs {
		p := &t.procs[i]
		p.mu.Lock()
		if p.state != Unused {
			n++
		}
		p.mu.Unlock()
	}
	return n
}

// Cap returns the table size.
func (t *Table) Cap() int { return len(t.procs) }

// handle pins a lookup to the pid it resolved, so an entry reused by a later
// process is not mistaken for the original.
type handle struct {
	p   *Proc
	pid int
}

func (h *handle) PID() int { return h.pid }

func (h *handle) WithAddressSpace(fn func(as *vm.AddressSpace) error) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.state != Runnable || h.p.pid != h.pid {
		return fmt.Errorf("%w: pid %d", ErrNotFound, h.pid)
	}
	return fn(h.p.as)
}
