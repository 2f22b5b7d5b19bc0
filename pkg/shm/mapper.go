package shm

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/srediag/shmlog/api"
	"github.com/srediag/shmlog/internal/logging"
	"github.com/srediag/shmlog/internal/metrics"
	"github.com/srediag/shmlog/pkg/vm"
)

const instrumentationName = "github.com/srediag/shmlog/pkg/shm"

// Mapping describes one alias installed in a destination address space.
type Mapping struct {
	SrcPID int
	DstPID int
	SrcVA  vm.VA
	DstVA  vm.VA
	Size   uint64
	Frames []vm.Frame
}

// Pages returns the number of pages the mapping spans.
func (m *Mapping) Pages() int { return len(m.Frames) }

type mappingKey struct {
	pid int
	va  vm.VA
}

func (k mappingKey) String() string {
	return strconv.Itoa(k.pid) + "@" + strconv.FormatUint(uint64(k.va), 16)
}

// Mapper installs and removes shared mappings between processes of a registry.
// It holds no lock across an operation: each phase takes only the lock of the
// process it touches, so maps between unrelated processes proceed in parallel.
type Mapper struct {
	reg     api.Registry
	records cmap.ConcurrentMap[mappingKey, *Mapping]

	logger  *zap.Logger
	metrics *metrics.Mapper
	tracer  trace.Tracer
	meter   metric.Meter
	pages   metric.Int64Counter
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mapper) { m.logger = logging.OrNop(l) }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(c *metrics.Mapper) Option {
	return func(m *Mapper) {
		if c != nil {
			m.metrics = c
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Mapper) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithMeter sets the OpenTelemetry meter.
func WithMeter(mt metric.Meter) Option {
	return func(m *Mapper) {
		if mt != nil {
			m.meter = mt
		}
	}
}

// NewMapper returns a Mapper resolving processes through reg.
func NewMapper(reg api.Registry, opts ...Option) *Mapper {
	m := &Mapper{
		reg:     reg,
		records: cmap.NewStringer[mappingKey, *Mapping](),
		logger:  zap.NewNop(),
		metrics: metrics.NewMapper(nil),
		tracer:  tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:   metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	pages, err := m.meter.Int64Counter("shmlog.shm.mapped_pages",
		metric.WithDescription("Pages aliased by map_shared_pages."),
		metric.WithUnit("{page}"))
	if err != nil {
		m.logger.Warn("otel counter unavailable", zap.Error(err))
		pages, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("shmlog.shm.mapped_pages")
	}
	m.pages = pages
	return m
}

// Map aliases [srcVA, srcVA+size) of srcPID into dstPID and returns the
// address of the view in the destination. The view is placed at the
// destination's page-rounded heap top, which then moves past it.
func (m *Mapper) Map(ctx context.Context, srcPID, dstPID int, srcVA vm.VA, size uint64) (vm.VA, error) {
	ctx, span := m.tracer.Start(ctx, "shm.Map", trace.WithAttributes(
		attribute.Int("shm.src_pid", srcPID),
		attribute.Int("shm.dst_pid", dstPID),
		attribute.Int64("shm.size", int64(size)),
	))
	defer span.End()

	mp, err := m.doMap(srcPID, dstPID, srcVA, size)
	if err != nil {
		m.metrics.Maps.WithLabelValues(metrics.ResultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Debug("map_shared_pages failed",
			zap.Int("src", srcPID), zap.Int("dst", dstPID),
			zap.Uint64("va", uint64(srcVA)), zap.Uint64("size", size), zap.Error(err))
		return 0, err
	}
	m.metrics.Maps.WithLabelValues(metrics.ResultOK).Inc()
	m.metrics.SharedPages.Add(float64(mp.Pages()))
	m.pages.Add(ctx, int64(mp.Pages()))
	span.SetAttributes(attribute.Int64("shm.dst_va", int64(mp.DstVA)))
	m.logger.Debug("map_shared_pages",
		zap.Int("src", srcPID), zap.Int("dst", dstPID),
		zap.Uint64("src_va", uint64(srcVA)), zap.Uint64("dst_va", uint64(mp.DstVA)),
		zap.Int("pages", mp.Pages()))
	return mp.DstVA, nil
}

// MapSelf maps [srcVA, srcVA+size) of srcPID into the calling process.
func (m *Mapper) MapSelf(ctx context.Context, caller, srcPID int, srcVA vm.VA, size uint64) (vm.VA, error) {
	return m.Map(ctx, srcPID, caller, srcVA, size)
}

func (m *Mapper) doMap(srcPID, dstPID int, srcVA vm.VA, size uint64) (*Mapping, error) {
	if size == 0 || !vm.PageAligned(size) || !vm.PageAligned(uint64(srcVA)) {
		return nil, fmt.Errorf("%w: va %#x size %#x", ErrInvalidRange, srcVA, size)
	}
	if uint64(srcVA)+size < uint64(srcVA) {
		return nil, fmt.Errorf("%w: va %#x size %#x overflows", ErrInvalidRange, srcVA, size)
	}
	src, ok := m.reg.Lookup(srcPID)
	if !ok {
		return nil, fmt.Errorf("%w: source pid %d", ErrNotFound, srcPID)
	}
	dst, ok := m.reg.Lookup(dstPID)
	if !ok {
		return nil, fmt.Errorf("%w: destination pid %d", ErrNotFound, dstPID)
	}

	npages := int(size / vm.PageSize)
	frames, mem, err := m.pinSource(src, srcVA, npages)
	if err != nil {
		return nil, err
	}

	var dstVA vm.VA
	err = withAddressSpace(dst, func(as *vm.AddressSpace) error {
		dstVA = vm.PageRoundUp(as.Size())
		end := dstVA + vm.VA(size)
		if end < dstVA || end > as.Limit() {
			return fmt.Errorf("%w: [%#x, %#x) beyond %#x", ErrOutOfSpace, dstVA, end, as.Limit())
		}
		if err := as.MapPages(dstVA, frames, vm.PermRW|vm.PermShared); err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfSpace, err)
		}
		as.SetSize(end)
		return nil
	})
	if err != nil {
		for _, f := range frames {
			mem.DecRef(f)
		}
		m.metrics.Rollbacks.Inc()
		m.logger.Warn("map_shared_pages rolled back", zap.Int("dst", dstPID), zap.Error(err))
		return nil, err
	}

	mp := &Mapping{
		SrcPID: srcPID,
		DstPID: dstPID,
		SrcVA:  srcVA,
		DstVA:  dstVA,
		Size:   size,
		Frames: frames,
	}
	m.records.Set(mappingKey{pid: dstPID, va: dstVA}, mp)
	return mp, nil
}

// pinSource checks that every page of the range is mapped for user access
// and takes a reference on each frame, so the source exiting before the
// destination install cannot free them.
func (m *Mapper) pinSource(src api.Process, srcVA vm.VA, npages int) ([]vm.Frame, *vm.PhysMem, error) {
	frames := make([]vm.Frame, 0, npages)
	var mem *vm.PhysMem
	err := withAddressSpace(src, func(as *vm.AddressSpace) error {
		for i := 0; i < npages; i++ {
			va := srcVA + vm.VA(i)*vm.PageSize
			pte, ok := as.Lookup(va)
			if !ok || pte.Perm&vm.PermUser == 0 {
				return fmt.Errorf("%w: source page %#x not mapped", ErrInvalidRange, va)
			}
			frames = append(frames, pte.Frame)
		}
		mem = as.Mem()
		for _, f := range frames {
			mem.IncRef(f)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return frames, mem, nil
}

// Unmap removes the mapping previously returned for dstPID at addr. The size
// must equal the mapped size; partial unmaps fail with ErrInvalidArgument.
// The source's pages and data are not touched.
func (m *Mapper) Unmap(ctx context.Context, dstPID int, addr vm.VA, size uint64) error {
	_, span := m.tracer.Start(ctx, "shm.Unmap", trace.WithAttributes(
		attribute.Int("shm.dst_pid", dstPID),
		attribute.Int64("shm.addr", int64(addr)),
		attribute.Int64("shm.size", int64(size)),
	))
	defer span.End()

	mp, err := m.doUnmap(dstPID, addr, size)
	if err != nil {
		m.metrics.Unmaps.WithLabelValues(metrics.ResultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Debug("unmap_shared_pages failed",
			zap.Int("dst", dstPID), zap.Uint64("addr", uint64(addr)),
			zap.Uint64("size", size), zap.Error(err))
		return err
	}
	m.metrics.Unmaps.WithLabelValues(metrics.ResultOK).Inc()
	m.metrics.SharedPages.Sub(float64(mp.Pages()))
	m.logger.Debug("unmap_shared_pages",
		zap.Int("dst", dstPID), zap.Uint64("addr", uint64(addr)), zap.Int("pages", mp.Pages()))
	return nil
}

// UnmapSelf removes a mapping from the calling process.
func (m *Mapper) UnmapSelf(ctx context.Context, caller int, addr vm.VA, size uint64) error {
	return m.Unmap(ctx, caller, addr, size)
}

func (m *Mapper) doUnmap(dstPID int, addr vm.VA, size uint64) (*Mapping, error) {
	if size == 0 || !vm.PageAligned(size) || !vm.PageAligned(uint64(addr)) {
		return nil, fmt.Errorf("%w: addr %#x size %#x", ErrInvalidRange, addr, size)
	}
	key := mappingKey{pid: dstPID, va: addr}
	mp, ok := m.records.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: no mapping at %#x in pid %d", ErrNotFound, addr, dstPID)
	}
	if mp.Size != size {
		return nil, fmt.Errorf("%w: mapping at %#x is %#x bytes, not %#x", ErrInvalidArgument, addr, mp.Size, size)
	}
	dst, ok := m.reg.Lookup(dstPID)
	if !ok {
		m.forget(key, mp)
		return nil, fmt.Errorf("%w: destination pid %d", ErrNotFound, dstPID)
	}
	// Claim the record first so two racing unmaps cannot both drop references.
	if !m.claim(key, mp) {
		return nil, fmt.Errorf("%w: mapping at %#x already removed", ErrNotFound, addr)
	}
	err := withAddressSpace(dst, func(as *vm.AddressSpace) error {
		// A heap shrink can drop the view and a regrow put private pages
		// at the same addresses; those are not ours to remove.
		for i, f := range mp.Frames {
			va := addr + vm.VA(i)*vm.PageSize
			pte, ok := as.Lookup(va)
			if !ok || pte.Frame != f || pte.Perm&vm.PermShared == 0 {
				return fmt.Errorf("%w: page %#x of pid %d is no longer the mapped frame", ErrNotFound, va, dstPID)
			}
		}
		as.UnmapPages(addr, mp.Pages())
		if addr+vm.VA(size) == as.Size() {
			as.SetSize(addr)
		}
		return nil
	})
	if err != nil {
		// Either the process exited after the lookup and its exit released
		// the pages, or the view was already torn down by a heap shrink.
		// The record is stale in both cases.
		m.metrics.PrunedStales.Inc()
		m.metrics.SharedPages.Sub(float64(mp.Pages()))
		return nil, err
	}
	return mp, nil
}

func (m *Mapper) claim(key mappingKey, mp *Mapping) bool {
	return m.records.RemoveCb(key, func(_ mappingKey, v *Mapping, exists bool) bool {
		return exists && v == mp
	})
}

func (m *Mapper) forget(key mappingKey, mp *Mapping) bool {
	if !m.claim(key, mp) {
		return false
	}
	m.metrics.PrunedStales.Inc()
	m.metrics.SharedPages.Sub(float64(mp.Pages()))
	m.logger.Warn("dropped mapping of exited process",
		zap.Int("dst", mp.DstPID), zap.Uint64("addr", uint64(mp.DstVA)))
	return true
}

// Mappings returns the mappings installed in pid, ordered by address.
func (m *Mapper) Mappings(pid int) []Mapping {
	var out []Mapping
	for _, mp := range m.records.Items() {
		if mp.DstPID == pid {
			out = append(out, *mp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DstVA < out[j].DstVA })
	return out
}

// Prune drops the records of destinations that have exited and returns how
// many were dropped.
func (m *Mapper) Prune() int {
	n := 0
	for key, mp := range m.records.Items() {
		if _, ok := m.reg.Lookup(mp.DstPID); ok {
			continue
		}
		if m.forget(key, mp) {
			n++
		}
	}
	return n
}

// Len returns the number of live mapping records.
func (m *Mapper) Len() int { return m.records.Count() }

// withAddressSpace runs fn under p's lock. An error from fn is returned as
// is; any other failure means p exited and is reported as ErrNotFound.
func withAddressSpace(p api.Process, fn func(as *vm.AddressSpace) error) error {
	var inner error
	err := p.WithAddressSpace(func(as *vm.AddressSpace) error {
		inner = fn(as)
		return inner
	})
	if inner != nil {
		return inner
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return nil
}
