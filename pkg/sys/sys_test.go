package sys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/srediag/shmlog/pkg/proc"
	"github.com/srediag/shmlog/pkg/shm"
	"github.com/srediag/shmlog/pkg/vm"
)

type SysTestSuite struct {
	suite.Suite
	ctx    context.Context
	mem    *vm.PhysMem
	table  *proc.Table
	kernel *Kernel
	logs   *observer.ObservedLogs
	parent int
	child  int
}

func TestSysTestSuite(t *testing.T) {
	suite.Run(t, new(SysTestSuite))
}

func (s *SysTestSuite) SetupTest() {
	s.ctx = context.Background()
	var err error
	s.mem, err = vm.NewPhysMem(s.ctx, 32, "")
	s.Require().NoError(err)
	s.table = proc.NewTable(s.mem, 8, 1<<24, nil)

	core, logs := observer.New(zapcore.DebugLevel)
	s.logs = logs
	s.kernel = New(shm.NewMapper(s.table), zap.New(core))

	s.parent, err = s.table.Spawn("parent")
	s.Require().NoError(err)
	_, err = s.table.Sbrk(s.parent, vm.PageSize)
	s.Require().NoError(err)
	s.child, err = s.table.Spawn("child")
	s.Require().NoError(err)
}

func (s *SysTestSuite) TearDownTest() {
	s.Require().NoError(s.mem.Close())
}

func (s *SysTestSuite) TestExplicitForms() {
	va := s.kernel.Dispatch(s.ctx, s.parent, SysMapSharedPages,
		int64(s.parent), int64(s.child), 0, vm.PageSize)
	s.Equal(int64(0), va, "child heap is empty so the view starts at zero")
	s.Len(s.kernel.Mapper().Mappings(s.child), 1)

	s.Equal(int64(0), s.kernel.Dispatch(s.ctx, s.parent, SysUnmapSharedPages,
		int64(s.child), va, vm.PageSize))
	s.Empty(s.kernel.Mapper().Mappings(s.child))
}

func (s *SysTestSuite) TestImplicitForms() {
	_, err := s.table.Sbrk(s.child, 2*vm.PageSize)
	s.Require().NoError(err)

	va := s.kernel.MapSharedPagesSelf(s.ctx, s.child, s.parent, 0, vm.PageSize)
	s.Equal(int64(2*vm.PageSize), va)
	mappings := s.kernel.Mapper().Mappings(s.child)
	s.Require().Len(mappings, 1)
	s.Equal(s.parent, mappings[0].SrcPID)

	s.Equal(int64(0), s.kernel.UnmapSharedPagesSelf(s.ctx, s.child, vm.VA(va), vm.PageSize))
	s.Zero(s.kernel.Mapper().Len())
}

func (s *SysTestSuite) TestWrappersMatchDispatch() {
	va := s.kernel.MapSharedPages(s.ctx, s.parent, s.parent, s.child, 0, vm.PageSize)
	s.GreaterOrEqual(va, int64(0))
	s.Equal(int64(0), s.kernel.UnmapSharedPages(s.ctx, s.parent, s.child, vm.VA(va), vm.PageSize))
}

func (s *SysTestSuite) TestFailuresFlattenToMinusOne() {
	cases := []struct {
		name string
		num  int
		args []int64
	}{
		{"unknown call", 99, nil},
		{"map arity", SysMapSharedPages, []int64{1, 2}},
		{"unmap arity", SysUnmapSharedPages, []int64{1}},
		{"negative size", SysMapSharedPages, []int64{int64(s.parent), 0, -4096}},
		{"missing source", SysMapSharedPages, []int64{999, 0, vm.PageSize}},
		{"misaligned", SysMapSharedPages, []int64{int64(s.parent), 12, vm.PageSize}},
		{"unmapped source", SysMapSharedPages, []int64{int64(s.parent), vm.PageSize, vm.PageSize}},
		{"no mapping", SysUnmapSharedPages, []int64{0, vm.PageSize}},
	}
	for _, tc := range cases {
		s.Equal(Failed, s.kernel.Dispatch(s.ctx, s.child, tc.num, tc.args...), tc.name)
	}
	s.Equal(len(cases), s.logs.FilterMessage("syscall failed").Len())
	s.Zero(s.kernel.Mapper().Len())
}
