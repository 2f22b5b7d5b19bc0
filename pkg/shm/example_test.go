package shm_test

import (
	"context"
	"fmt"

	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/shm"
	"github.com/srediag/shmlog/pkg/vm"
)

func ExampleMapper() {
	ctx := context.Background()
	mem, err := vm.NewPhysMem(ctx, 16, "")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer mem.Close()

	table := proc.NewTable(mem, 4, 1<<20, nil)
	parent, _ := table.Spawn("parent")
	buf, _ := table.Sbrk(parent, vm.PageSize)
	child, _ := table.Fork(parent)

	mapper := shm.NewMapper(table)
	view, err := mapper.Map(ctx, parent, child, buf, vm.PageSize)
	fmt.Printf("view %#x %v\n", view, err)

	p, _ := table.Lookup(child)
	_ = p.WithAddressSpace(func(as *vm.AddressSpace) error {
		return as.Write(view, []byte("Hello daddy"))
	})
	p, _ = table.Lookup(parent)
	_ = p.WithAddressSpace(func(as *vm.AddressSpace) error {
		b, err := as.Read(buf, 11)
		fmt.Println(string(b), err)
		return err
	})

	fmt.Println(mapper.Unmap(ctx, child, view, vm.PageSize))
	// Output:
	// view 0x1000 <nil>
	// Hello daddy <nil>
	// <nil>
}
