// Package sys is the numbered system call boundary for the shared-mapping
// calls. Every failure is reported to the caller as -1; the underlying error
// is only logged.
package sys

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/srediag/shmlog/internal/logging"
	"github.com/srediag/shmlog/pkg/shm"
	"github.com/srediag/shmlog/pkg/vm"
)

// System call numbers.
const (
	SysMapSharedPages   = 22
	SysUnmapSharedPages = 23
)

// Failed is the value every failed call returns.
const Failed int64 = -1

var (
	ErrNoSyscall = errors.New("no such system call")
	ErrArity     = errors.New("wrong number of arguments")
	ErrNegative  = errors.New("negative argument")
)

// Kernel dispatches system calls to the mapper.
type Kernel struct {
	mapper *shm.Mapper
	logger *zap.Logger
}

// New returns a Kernel serving calls with m.
func New(m *shm.Mapper, logger *zap.Logger) *Kernel {
	return &Kernel{mapper: m, logger: logging.OrNop(logger)}
}

// Mapper returns the mapper the kernel dispatches to.
func (k *Kernel) Mapper() *shm.Mapper { return k.mapper }

// Dispatch runs system call num on behalf of caller.
//
//	map_shared_pages(src, dst, va, size)    explicit destination
//	map_shared_pages(src, va, size)         destination is caller
//	unmap_shared_pages(dst, addr, size)     explicit destination
//	unmap_shared_pages(addr, size)          destination is caller
func (k *Kernel) Dispatch(ctx context.Context, caller int, num int, args ...int64) int64 {
	ret, err := k.call(ctx, caller, num, args)
	if err != nil {
		k.logger.Debug("syscall failed",
			zap.Int("pid", caller),
			zap.Int("num", num),
			zap.Int64s("args", args),
			zap.Error(err))
		return Failed
	}
	return ret
}

func (k *Kernel) call(ctx context.Context, caller, num int, args []int64) (int64, error) {
	for i, a := range args {
		if a < 0 {
			return 0, fmt.Errorf("%w: arg %d is %d", ErrNegative, i, a)
		}
	}
	switch num {
	case SysMapSharedPages:
		var src, dst int
		var va, size int64
		switch len(args) {
		case 4:
			src, dst, va, size = int(args[0]), int(args[1]), args[2], args[3]
		case 3:
			src, dst, va, size = int(args[0]), caller, args[1], args[2]
		default:
			return 0, fmt.Errorf("%w: map_shared_pages takes 3 or 4, got %d", ErrArity, len(args))
		}
		got, err := k.mapper.Map(ctx, src, dst, vm.VA(va), uint64(size))
		return int64(got), err
	case SysUnmapSharedPages:
		var dst int
		var addr, size int64
		switch len(args) {
		case 3:
			dst, addr, size = int(args[0]), args[1], args[2]
		case 2:
			dst, addr, size = caller, args[0], args[1]
		default:
			return 0, fmt.Errorf("%w: unmap_shared_pages takes 2 or 3, got %d", ErrArity, len(args))
		}
		return 0, k.mapper.Unmap(ctx, dst, vm.VA(addr), uint64(size))
	}
	return 0, fmt.Errorf("%w: %d", ErrNoSyscall, num)
}

// MapSharedPages maps [va, va+size) of src into dst.
func (k *Kernel) MapSharedPages(ctx context.Context, caller, src, dst int, va vm.VA, size uint64) int64 {
	return k.Dispatch(ctx, caller, SysMapSharedPages, int64(src), int64(dst), int64(va), int64(size))
}

// MapSharedPagesSelf maps [va, va+size) of src into the caller.
func (k *Kernel) MapSharedPagesSelf(ctx context.Context, caller, src int, va vm.VA, size uint64) int64 {
	return k.Dispatch(ctx, caller, SysMapSharedPages, int64(src), int64(va), int64(size))
}

// UnmapSharedPages removes the view at addr from dst.
func (k *Kernel) UnmapSharedPages(ctx context.Context, caller, dst int, addr vm.VA, size uint64) int64 {
	return k.Dispatch(ctx, caller, SysUnmapSharedPages, int64(dst), int64(addr), int64(size))
}

// UnmapSharedPagesSelf removes the view at addr from the caller.
func (k *Kernel) UnmapSharedPagesSelf(ctx context.Context, caller int, addr vm.VA, size uint64) int64 {
	return k.Dispatch(ctx, caller, SysUnmapSharedPages, int64(addr), int64(size))
}
