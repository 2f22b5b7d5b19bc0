// Package api defines the contracts the shared-mapping core consumes.
package api

import "github.com/srediag/shmlog/pkg/vm"

// Process is a handle to a process table entry.
type Process interface {
	// PID returns the process id the handle was looked up with.
	PID() int
	// WithAddressSpace runs fn under the entry's lock. It fails without
	// calling fn if the process is no longer alive.
	WithAddressSpace(fn func(as *vm.AddressSpace) error) error
}

// Registry resolves process ids to live processes.
type Registry interface {
	// Lookup returns the live process with the given id. A process may exit
	// between Lookup and use; callers must tolerate WithAddressSpace failing.
	Lookup(pid int) (Process, bool)
}
