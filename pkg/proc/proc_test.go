package proc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/shmlog/pkg/vm"
)

type ProcTestSuite struct {
	suite.Suite
	mem   *vm.PhysMem
	table *Table
}

func (s *ProcTestSuite) SetupTest() {
	var err error
	s.mem, err = vm.NewPhysMem(context.Background(), 64, "")
	s.Require().NoError(err)
	s.table = NewTable(s.mem, 4, 1<<30, nil)
}

func (s *ProcTestSuite) TearDownTest() {
	s.Require().NoError(s.mem.Close())
}

func (s *ProcTestSuite) TestSpawnLookupExit() {
	pid, err := s.table.Spawn("init")
	s.Require().NoError(err)
	p, ok := s.table.Lookup(pid)
	s.Require().True(ok)
	s.Equal(pid, p.PID())

	s.Require().NoError(s.table.Exit(pid))
	_, ok = s.table.Lookup(pid)
	s.False(ok)
	s.ErrorIs(p.WithAddressSpace(func(*vm.AddressSpace) error { return nil }), ErrNotFound)
	s.ErrorIs(s.table.Exit(pid), ErrNotFound)
}

func (s *ProcTestSuite) TestStaleHandleAfterSlotReuse() {
	pid, err := s.table.Spawn("a")
	s.Require().NoError(err)
	p, ok := s.table.Lookup(pid)
	s.Require().True(ok)
	s.Require().NoError(s.table.Exit(pid))

	next, err := s.table.Spawn("b")
	s.Require().NoError(err)
	s.NotEqual(pid, next)
	s.ErrorIs(p.WithAddressSpace(func(*vm.AddressSpace) error { return nil }), ErrNotFound)
}

func (s *ProcTestSuite) TestTableFull() {
	for i := 0; i < s.table.Cap(); i++ {
		_, err := s.table.Spawn("p")
		s.Require().NoError(err)
	}
	_, err := s.table.Spawn("overflow")
	s.ErrorIs(err, ErrNoSlot)
	s.Equal(4, s.table.Len())
}

func (s *ProcTestSuite) TestForkCopiesMemory() {
	parent, err := s.table.Spawn("parent")
	s.Require().NoError(err)
	old, err := s.table.Sbrk(parent, vm.PageSize)
	s.Require().NoError(err)
	s.Equal(vm.VA(0), old)

	pp, _ := s.table.Lookup(parent)
	s.Require().NoError(pp.WithAddressSpace(func(as *vm.AddressSpace) error {
		return as.Write(0, []byte("before fork"))
	}))

	child, err := s.table.Fork(parent)
	s.Require().NoError(err)
	cp, ok := s.table.Lookup(child)
	s.Require().True(ok)
	s.Require().NoError(cp.WithAddressSpace(func(as *vm.AddressSpace) error {
		got, err := as.Read(0, 11)
		s.Equal("before fork", string(got))
		s.Equal(vm.VA(vm.PageSize), as.Size())
		if err != nil {
			return err
		}
		return as.Write(0, []byte("child"))
	}))
	s.Require().NoError(pp.WithAddressSpace(func(as *vm.AddressSpace) error {
		got, err := as.Read(0, 6)
		s.Equal("before", string(got))
		return err
	}))

	s.Equal(62, s.mem.Free())
	s.Require().NoError(s.table.Exit(child))
	s.Require().NoError(s.table.Exit(parent))
	s.Equal(64, s.mem.Free())
}

func (s *ProcTestSuite) TestConcurrentSpawnExit() {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				pid, err := s.table.Spawn("worker")
				if err != nil {
					continue
				}
				_, _ = s.table.Sbrk(pid, vm.PageSize)
				s.NoError(s.table.Exit(pid))
			}
		}()
	}
	wg.Wait()
	s.Equal(0, s.table.Len())
	s.Equal(64, s.mem.Free())
}

func TestProcTestSuite(t *testing.T) {
	suite.Run(t, new(ProcTestSuite))
}
