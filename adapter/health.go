// Package adapter connects the simulated kernel to external systems: health
// probes and OpenTelemetry.
package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/vm"
)

const maxGoroutines = 10000

// HealthOptions sets the readiness thresholds.
type HealthOptions struct {
	// MinFreeFrames is the number of free frames below which the arena is not ready.
	MinFreeFrames int
	// MinFreeSlots is the number of unused process entries below which the table is not ready.
	MinFreeSlots int
}

// NewHealth returns a handler serving /live and /ready for an arena and its
// process table.
func NewHealth(mem *vm.PhysMem, table *proc.Table, opts HealthOptions) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	h.AddReadinessCheck("free-frames", FreeFramesCheck(mem, opts.MinFreeFrames))
	h.AddReadinessCheck("process-slots", ProcessSlotsCheck(table, opts.MinFreeSlots))
	return h
}

// FreeFramesCheck fails while mem has fewer than want free frames.
func FreeFramesCheck(mem *vm.PhysMem, want int) healthcheck.Check {
	return func() error {
		if free := mem.Free(); free < want {
			return fmt.Errorf("%d of %d frames free, want %d", free, mem.Frames(), want)
		}
		return nil
	}
}

// ProcessSlotsCheck fails while table has fewer than want unused entries.
func ProcessSlotsCheck(table *proc.Table, want int) healthcheck.Check {
	return func() error {
		if free := table.Cap() - table.Len(); free < want {
			return fmt.Errorf("%d of %d process slots free, want %d", free, table.Cap(), want)
		}
		return nil
	}
}
