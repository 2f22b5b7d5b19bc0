package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type VMTestSuite struct {
	suite.Suite
	mem *PhysMem
}

func (s *VMTestSuite) SetupTest() {
	var err error
	s.mem, err = NewPhysMem(context.Background(), 32, "")
	s.Require().NoError(err)
}

func (s *VMTestSuite) TearDownTest() {
	s.Require().NoError(s.mem.Close())
}

func (s *VMTestSuite) TestAllocRefCount() {
	f, err := s.mem.Alloc()
	s.Require().NoError(err)
	s.Equal(1, s.mem.Refs(f))
	s.Equal(31, s.mem.Free())

	s.mem.IncRef(f)
	s.False(s.mem.DecRef(f))
	s.Equal(31, s.mem.Free())
	s.True(s.mem.DecRef(f))
	s.Equal(32, s.mem.Free())
	s.Panics(func() { s.mem.DecRef(f) })
}

func (s *VMTestSuite) TestAllocZeroesAndExhausts() {
	frames := make([]Frame, 0, 32)
	for i := 0; i < 32; i++ {
		f, err := s.mem.Alloc()
		s.Require().NoError(err)
		s.mem.Page(f)[0] = 0xAB
		frames = append(frames, f)
	}
	_, err := s.mem.Alloc()
	s.Require().ErrorIs(err, ErrOutOfMemory)

	s.mem.DecRef(frames[0])
	f, err := s.mem.Alloc()
	s.Require().NoError(err)
	s.Equal(byte(0), s.mem.Page(f)[0])
}

func (s *VMTestSuite) TestGrowShrink() {
	as := NewAddressSpace(s.mem, 1<<20)
	old, err := as.Grow(PageSize + 10)
	s.Require().NoError(err)
	s.Equal(VA(0), old)
	s.Equal(VA(PageSize+10), as.Size())
	s.Equal(2, as.Pages())

	s.Require().NoError(as.Write(PageSize-2, []byte("span")))
	got, err := as.Read(PageSize-2, 4)
	s.Require().NoError(err)
	s.Equal("span", string(got))

	_, err = as.Grow(-20)
	s.Require().NoError(err)
	s.Equal(1, as.Pages())
	_, err = as.Read(PageSize, 1)
	s.ErrorIs(err, ErrFault)

	_, err = as.Grow(-1 << 30)
	s.ErrorIs(err, ErrBadAddress)
	_, err = as.Grow(1 << 21)
	s.ErrorIs(err, ErrOutOfMemory)
}

func (s *VMTestSuite) TestGrowRollsBackOnOOM() {
	as := NewAddressSpace(s.mem, 1<<30)
	_, err := as.Grow(64 * PageSize)
	s.Require().ErrorIs(err, ErrOutOfMemory)
	s.Equal(0, as.Pages())
	s.Equal(VA(0), as.Size())
	s.Equal(32, s.mem.Free())
}

func (s *VMTestSuite) TestMapPagesAliasesFrames() {
	src := NewAddressSpace(s.mem, 1<<20)
	dst := NewAddressSpace(s.mem, 1<<20)
	_, err := src.Grow(PageSize)
	s.Require().NoError(err)
	pte, ok := src.Lookup(0)
	s.Require().True(ok)

	s.mem.IncRef(pte.Frame)
	s.Require().NoError(dst.MapPages(8*PageSize, []Frame{pte.Frame}, PermRW|PermShared))
	s.Require().NoError(dst.Write(8*PageSize+5, []byte("hi")))
	got, err := src.Read(5, 2)
	s.Require().NoError(err)
	s.Equal("hi", string(got))

	s.Error(dst.MapPages(8*PageSize, []Frame{pte.Frame}, PermRW))
	s.Error(dst.MapPages(3, []Frame{pte.Frame}, PermRW))

	src.Release()
	s.Equal(1, s.mem.Refs(pte.Frame))
	got, err = dst.Read(8*PageSize+5, 2)
	s.Require().NoError(err)
	s.Equal("hi", string(got))

	s.Equal(1, dst.UnmapPages(8*PageSize, 1))
	s.Equal(32, s.mem.Free())
}

func (s *VMTestSuite) TestClone() {
	parent := NewAddressSpace(s.mem, 1<<20)
	_, err := parent.Grow(2 * PageSize)
	s.Require().NoError(err)
	s.Require().NoError(parent.Write(0, []byte("parent")))

	child, err := parent.Clone()
	s.Require().NoError(err)
	s.Equal(parent.Size(), child.Size())
	s.Require().NoError(child.Write(0, []byte("child!")))

	got, err := parent.Read(0, 6)
	s.Require().NoError(err)
	s.Equal("parent", string(got))
	child.Release()
	parent.Release()
	s.Equal(32, s.mem.Free())
}

func (s *VMTestSuite) TestPageView() {
	as := NewAddressSpace(s.mem, 1<<20)
	_, err := as.Grow(PageSize)
	s.Require().NoError(err)
	view, err := as.PageView(0)
	s.Require().NoError(err)
	s.Len(view, PageSize)
	_, err = as.PageView(1)
	s.ErrorIs(err, ErrBadAddress)
	_, err = as.PageView(PageSize)
	s.ErrorIs(err, ErrFault)
}

func TestVMTestSuite(t *testing.T) {
	suite.Run(t, new(VMTestSuite))
}
