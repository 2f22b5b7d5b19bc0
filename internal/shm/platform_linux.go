//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const devShm = "/dev/shm"

// MapRegion maps a shared memory region of opts.Size bytes. The mapping is
// page-aligned and zero-filled.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", opts.Size)
	}
	if opts.Name == "" {
		addr, err := unix.Mmap(-1, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
		if err != nil {
			return nil, fmt.Errorf("mmap anonymous: %w", err)
		}
		return &MappedRegion{Addr: addr, fd: -1}, nil
	}

	shmPath := filepath.Join(devShm, opts.Name)
	if !canCreateOnDevShm(uint64(opts.Size), shmPath) {
		return nil, fmt.Errorf("%w: path %s size %d", ErrNoSpace, shmPath, opts.Size)
	}
	fd, err := unix.Open(shmPath, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		return nil, multierr.Append(fmt.Errorf("ftruncate: %w", err), cleanupFile(fd, shmPath))
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("mmap: %w", err), cleanupFile(fd, shmPath))
	}
	return &MappedRegion{
		Addr: addr,
		Name: opts.Name,
		fd:   fd,
		path: shmPath,
	}, nil
}

// UnmapRegion unmaps the region and removes its backing file, if any.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	var err error
	if uerr := unix.Munmap(region.Addr); uerr != nil {
		err = multierr.Append(err, fmt.Errorf("munmap: %w", uerr))
	}
	region.Addr = nil
	if region.fd >= 0 {
		err = multierr.Append(err, cleanupFile(region.fd, region.path))
		region.fd = -1
	}
	return err
}

func cleanupFile(fd int, path string) error {
	var err error
	if cerr := unix.Close(fd); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close fd %d: %w", fd, cerr))
	}
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, fmt.Errorf("remove %s: %w", path, rerr))
	}
	return err
}
