// Package shm aliases a page-aligned range of one process's memory into
// another process's address space.
//
// A mapping shares physical frames by reference: Map takes one reference per
// frame for the destination and Unmap drops it, so a frame outlives whichever
// of the source or the destination releases it first.
//
// Example usage:
//
//	mapper := shm.NewMapper(table, shm.WithLogger(logger))
//	va, err := mapper.Map(ctx, parentPID, childPID, buf, vm.PageSize)
//	// ...
//	err = mapper.Unmap(ctx, childPID, va, vm.PageSize)
package shm
