package efs

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-easyfs/bcache"
	"github.com/mit-pdos/go-easyfs/common"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/inode"
	"github.com/mit-pdos/go-easyfs/super"
)

const (
	testBlocks uint32 = 4096
	testIBB    uint32 = 1
)

// faultyDisk fails reads of one block once armed.
type faultyDisk struct {
	disk.Disk
	bad uint64
	err error
}

func (d *faultyDisk) Read(a uint64) (disk.Block, error) {
	if d.err != nil && a == d.bad {
		return nil, d.err
	}
	return d.Disk.Read(a)
}

type EfsSuite struct {
	suite.Suite
	d  disk.Disk
	c  *bcache.Cache
	fs *FileSystem
}

func (suite *EfsSuite) SetupTest() {
	suite.d = disk.NewMemDisk(uint64(testBlocks))
	suite.c = bcache.MkCache(common.NBCACHE)
	fs, err := Create(suite.c, suite.d, testBlocks, testIBB)
	suite.Require().NoError(err)
	suite.fs = fs
}

// reopen mounts the device again through a fresh cache.
func (suite *EfsSuite) reopen() *FileSystem {
	suite.Require().NoError(suite.fs.Close())
	suite.c = bcache.MkCache(common.NBCACHE)
	fs, err := Open(suite.c, suite.d)
	suite.Require().NoError(err)
	suite.fs = fs
	return fs
}

func TestEfs(t *testing.T) {
	suite.Run(t, new(EfsSuite))
}

func (suite *EfsSuite) TestScenario() {
	fs := suite.fs
	l := fs.Layout()

	root := fs.RootInode()
	tp, err := root.Type()
	suite.NoError(err)
	suite.Equal(inode.Directory, tp)
	suite.Equal(common.ROOTINUM, root.Inum())

	inum, err := fs.AllocInode()
	suite.NoError(err)
	suite.Equal(common.Inum(1), inum, "first free after root")

	bn, err := fs.AllocData()
	suite.NoError(err)
	suite.True(bn >= l.DataAreaStart())
	suite.Equal(l.DataAreaStart(), bn)

	suite.NoError(fs.DeallocData(bn))
	bn2, err := fs.AllocData()
	suite.NoError(err)
	suite.Equal(bn, bn2)
}

func (suite *EfsSuite) TestRoundTrip() {
	before := suite.fs.Layout()
	fs := suite.reopen()
	suite.Equal(before, fs.Layout())
	suite.Equal(before.InodeAreaStart(), fs.inodeAreaStart)
	suite.Equal(before.DataAreaStart(), fs.dataAreaStart)

	inum, err := fs.AllocInode()
	suite.NoError(err)
	suite.Equal(common.Inum(1), inum, "root bit persisted")
}

func (suite *EfsSuite) TestZeroedAfterCreate() {
	l := suite.fs.Layout()
	for bn := uint64(1); bn < uint64(testBlocks); bn++ {
		blk, err := suite.d.Read(bn)
		suite.Require().NoError(err)
		want := make([]byte, disk.BlockSize)
		switch common.Bnum(bn) {
		case l.InodeBitmapStart():
			want[0] = 1
		case l.InodeAreaStart():
			want[124] = byte(inode.Directory)
		}
		suite.Equal(want, []byte(blk), "block %d", bn)
	}
}

func (suite *EfsSuite) TestDiskInodePos() {
	fs := suite.fs
	start := fs.Layout().InodeAreaStart()
	blk, off := fs.GetDiskInodePos(0)
	suite.Equal(start, blk)
	suite.Equal(uint64(0), off)
	blk, off = fs.GetDiskInodePos(7)
	suite.Equal(start+1, blk)
	suite.Equal(3*common.INODESZ, off)
	suite.Equal(fs.Layout().DataAreaStart()+5, fs.GetDataBlockID(5))
}

func (suite *EfsSuite) TestDeallocZeroes() {
	fs := suite.fs
	bn, err := fs.AllocData()
	suite.Require().NoError(err)
	b, err := suite.c.Get(suite.d, uint64(bn))
	suite.Require().NoError(err)
	b.Modify(0, disk.BlockSize, func(data []byte) {
		for i := range data {
			data[i] = 0x5A
		}
	})
	b.Release()

	suite.NoError(fs.DeallocData(bn))
	bn2, err := fs.AllocData()
	suite.NoError(err)
	suite.Equal(bn, bn2)

	b, err = suite.c.Get(suite.d, uint64(bn2))
	suite.Require().NoError(err)
	defer b.Release()
	b.Read(0, disk.BlockSize, func(data []byte) {
		suite.Equal(make([]byte, disk.BlockSize), data)
	})
}

func (suite *EfsSuite) TestDoubleFreePanics() {
	fs := suite.fs
	bn, err := fs.AllocData()
	suite.Require().NoError(err)
	suite.NoError(fs.DeallocData(bn))
	suite.Panics(func() { fs.DeallocData(bn) })
	suite.Panics(func() { fs.DeallocData(1) }, "not a data block")
}

func (suite *EfsSuite) TestInodeExhaustion() {
	fs := suite.fs
	max := common.NBITBLOCK * uint64(testIBB)
	for i := uint64(1); i < max; i++ {
		inum, err := fs.AllocInode()
		suite.Require().NoError(err)
		suite.Require().Equal(common.Inum(i), inum)
	}
	_, err := fs.AllocInode()
	suite.Equal(ErrNoInodes, err)

	suite.NoError(fs.DeallocInode(42))
	inum, err := fs.AllocInode()
	suite.NoError(err)
	suite.Equal(common.Inum(42), inum, "still usable after exhaustion")
}

func (suite *EfsSuite) TestStat() {
	st, err := suite.fs.Stat()
	suite.NoError(err)
	suite.Equal(common.NBITBLOCK, st.Inodes)
	suite.Equal(st.Inodes-1, st.FreeInodes)
	suite.Equal(uint64(suite.fs.Layout().DataAreaBlocks), st.DataBlocks)
	suite.Equal(st.DataBlocks, st.FreeData)

	_, err = suite.fs.AllocData()
	suite.NoError(err)
	st, err = suite.fs.Stat()
	suite.NoError(err)
	suite.Equal(st.DataBlocks-1, st.FreeData)
}

func TestDataExhaustion(t *testing.T) {
	d := disk.NewMemDisk(1030)
	c := bcache.MkCache(common.NBCACHE)
	fs, err := Create(c, d, 1030, 1)
	require.NoError(t, err)
	l := fs.Layout()
	require.Equal(t, uint32(3), l.DataAreaBlocks)

	var got []common.Bnum
	for i := uint32(0); i < l.DataAreaBlocks; i++ {
		bn, err := fs.AllocData()
		require.NoError(t, err)
		got = append(got, bn)
	}
	assert.Equal(t, []common.Bnum{l.DataAreaStart(), l.DataAreaStart() + 1, l.DataAreaStart() + 2}, got)

	_, err = fs.AllocData()
	assert.Equal(t, ErrNoSpace, err, "bitmap bits past the data area are not handed out")
	_, err = fs.AllocData()
	assert.Equal(t, ErrNoSpace, err)

	assert.NoError(t, fs.DeallocData(got[1]))
	bn, err := fs.AllocData()
	assert.NoError(t, err)
	assert.Equal(t, got[1], bn)
}

func TestCreateGeometry(t *testing.T) {
	c := bcache.MkCache(common.NBCACHE)
	_, err := Create(c, disk.NewMemDisk(32), 32, 1)
	assert.Equal(t, ErrGeometry, err)

	_, err = Create(c, disk.NewMemDisk(2000), 4096, 1)
	assert.Equal(t, ErrGeometry, pkgerrors.Cause(err), "device smaller than requested")
}

func TestOpenInvalid(t *testing.T) {
	c := bcache.MkCache(common.NBCACHE)
	_, err := Open(c, disk.NewMemDisk(64))
	assert.Equal(t, ErrInvalidFS, err)
}

func TestIOErrorIsNotExhaustion(t *testing.T) {
	md := disk.NewMemDisk(uint64(testBlocks))
	fd := &faultyDisk{Disk: md}
	c := bcache.MkCache(common.NBCACHE)
	fs, err := Create(c, fd, testBlocks, testIBB)
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	ioErr := errors.New("sector not found")
	fd.bad = uint64(fs.Layout().DataBitmapStart())
	fd.err = ioErr

	_, err = fs.AllocData()
	assert.Error(t, err)
	assert.NotEqual(t, ErrNoSpace, err)
	assert.Equal(t, ioErr, pkgerrors.Cause(err))

	fd.err = nil
	bn, err := fs.AllocData()
	assert.NoError(t, err, "usable once the device recovers")
	assert.Equal(t, fs.Layout().DataAreaStart(), bn)
}

func TestSharedCacheTwoDevices(t *testing.T) {
	c := bcache.MkCache(common.NBCACHE)
	d1 := disk.NewMemDisk(uint64(testBlocks))
	d2 := disk.NewMemDisk(uint64(testBlocks))
	fs1, err := Create(c, d1, testBlocks, testIBB)
	require.NoError(t, err)
	fs2, err := Create(c, d2, testBlocks, testIBB)
	require.NoError(t, err)

	_, err = fs1.AllocInode()
	require.NoError(t, err)
	inum, err := fs2.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, common.Inum(1), inum, "bitmaps of distinct devices do not alias")
}

func TestLayoutMatchesSuper(t *testing.T) {
	l, err := super.ComputeLayout(testBlocks, testIBB)
	require.NoError(t, err)
	c := bcache.MkCache(common.NBCACHE)
	fs, err := Create(c, disk.NewMemDisk(uint64(testBlocks)), testBlocks, testIBB)
	require.NoError(t, err)
	assert.Equal(t, l, fs.Layout())
	assert.Equal(t, testBlocks, fs.Layout().End())
}

func TestFailedRollbackIsReported(t *testing.T) {
	fd := &faultyDisk{Disk: disk.NewMemDisk(1030)}
	c := bcache.MkCache(common.NBCACHE)
	fs, err := Create(c, fd, 1030, 1)
	require.NoError(t, err)
	require.NoError(t, fs.Close())
	l := fs.Layout()
	require.Equal(t, uint32(3), l.DataAreaBlocks)

	// the directory takes the first data block, leaving two for f
	f, err := fs.RootInode().Create("f")
	require.NoError(t, err)

	ioErr := errors.New("sector not found")
	fd.bad = uint64(l.DataAreaStart() + 1)
	fd.err = ioErr

	_, err = f.WriteAt(0, make([]byte, 3*disk.BlockSize))
	assert.Error(t, err)
	assert.Equal(t, ioErr, pkgerrors.Cause(err), "rollback failure is not hidden")
	assert.Contains(t, err.Error(), ErrNoSpace.Error())
}

func TestCreateReleasesInodeOnStoreError(t *testing.T) {
	fd := &faultyDisk{Disk: disk.NewMemDisk(uint64(testBlocks))}
	c := bcache.MkCache(common.NBCACHE)
	fs, err := Create(c, fd, testBlocks, testIBB)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := fs.AllocInode()
		require.NoError(t, err)
	}
	require.NoError(t, fs.Close())

	// inode 4 is the first record of the second inode block
	blkno, off := fs.GetDiskInodePos(4)
	require.Equal(t, uint64(0), off)
	ioErr := errors.New("sector not found")
	fd.bad = uint64(blkno)
	fd.err = ioErr

	_, err = fs.RootInode().Create("x")
	assert.Equal(t, ioErr, pkgerrors.Cause(err))

	fd.err = nil
	inum, err := fs.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, common.Inum(4), inum, "inode is free again")
	_, err = fs.RootInode().Find("x")
	assert.Equal(t, ErrNotFound, err)
}
