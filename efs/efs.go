// Package efs is a small file system laid out directly on a block device.
//
// A FileSystem owns the inode and data bitmaps of one device and maps
// logical inode and data indices to physical blocks. All device access goes
// through a shared block cache. A single lock serializes allocation and
// every Inode operation; Inode handles are plain values that take the lock
// per call, and must not be used after the FileSystem is closed.
package efs

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-easyfs/addr"
	"github.com/mit-pdos/go-easyfs/bcache"
	"github.com/mit-pdos/go-easyfs/bitmap"
	"github.com/mit-pdos/go-easyfs/common"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/inode"
	"github.com/mit-pdos/go-easyfs/super"
	"github.com/mit-pdos/go-easyfs/util"
)

var (
	ErrInvalidFS = errors.New("efs: not a valid file system")
	ErrNoInodes  = errors.New("efs: out of inodes")
	ErrNoSpace   = errors.New("efs: out of space")
	ErrGeometry  = super.ErrGeometry
)

type FileSystem struct {
	mu *sync.Mutex
	c  *bcache.Cache
	d  disk.Disk

	layout         super.Layout
	inodeBitmap    *bitmap.Bitmap
	dataBitmap     *bitmap.Bitmap
	inodeAreaStart common.Bnum
	dataAreaStart  common.Bnum
}

func mkFileSystem(c *bcache.Cache, d disk.Disk, l super.Layout) *FileSystem {
	return &FileSystem{
		mu:             new(sync.Mutex),
		c:              c,
		d:              d,
		layout:         l,
		inodeBitmap:    bitmap.MkBitmap(l.InodeBitmapStart(), uint64(l.InodeBitmapBlocks)),
		dataBitmap:     bitmap.MkBitmap(l.DataBitmapStart(), uint64(l.DataBitmapBlocks)),
		inodeAreaStart: l.InodeAreaStart(),
		dataAreaStart:  l.DataAreaStart(),
	}
}

// Create formats the first totalBlocks blocks of d: it zeroes them, writes
// the superblock and makes an empty root directory at inode 0. The result
// is flushed to d before Create returns.
func Create(c *bcache.Cache, d disk.Disk, totalBlocks uint32, inodeBitmapBlocks uint32) (*FileSystem, error) {
	l, err := super.ComputeLayout(totalBlocks, inodeBitmapBlocks)
	if err != nil {
		return nil, err
	}
	sz, err := d.Size()
	if err != nil {
		return nil, errors.Wrap(err, "efs: device size")
	}
	if sz < uint64(totalBlocks) {
		return nil, errors.Wrapf(ErrGeometry, "efs: device has %d blocks, need %d", sz, totalBlocks)
	}
	util.DPrintf(1, "efs: create %d blocks, %d inode bitmap blocks\n", totalBlocks, inodeBitmapBlocks)

	for bn := uint64(0); bn < uint64(totalBlocks); bn++ {
		if err := zeroBlock(c, d, bn); err != nil {
			return nil, err
		}
	}

	b, err := c.Get(d, 0)
	if err != nil {
		return nil, errors.Wrap(err, "efs: superblock")
	}
	b.Modify(0, super.SUPERSZ, func(data []byte) {
		var sb super.SuperBlock
		sb.Initialize(l)
		sb.Encode(data)
	})
	b.Release()

	fs := mkFileSystem(c, d, l)
	root, err := fs.AllocInode()
	if err != nil {
		return nil, err
	}
	if root != common.ROOTINUM {
		panic(fmt.Errorf("efs: root inode allocated at %d", root))
	}
	di := &inode.DiskInode{}
	di.Initialize(inode.Directory)
	blkno, off := fs.GetDiskInodePos(root)
	if err := di.Store(c, d, blkno, off); err != nil {
		return nil, errors.Wrap(err, "efs: root inode")
	}

	if err := c.Flush(d); err != nil {
		return nil, err
	}
	return fs, nil
}

// undo reports the outcome of rolling back after err. A failed rollback
// leaves an allocation behind, so its error replaces err.
func undo(err error, rollbackErr error) error {
	if rollbackErr == nil {
		return err
	}
	util.DPrintf(1, "efs: rollback after %v: %v\n", err, rollbackErr)
	return errors.Wrapf(rollbackErr, "efs: undo after %v", err)
}

func zeroBlock(c *bcache.Cache, d disk.Disk, bn uint64) error {
	b, err := c.Get(d, bn)
	if err != nil {
		return errors.Wrapf(err, "efs: zero block %d", bn)
	}
	b.Modify(0, disk.BlockSize, util.Zero)
	b.Release()
	return nil
}

// Open mounts the file system on d. Region boundaries come from the
// superblock alone; the bitmaps are trusted as they are on disk.
func Open(c *bcache.Cache, d disk.Disk) (*FileSystem, error) {
	b, err := c.Get(d, 0)
	if err != nil {
		return nil, errors.Wrap(err, "efs: superblock")
	}
	var sb super.SuperBlock
	b.Read(0, super.SUPERSZ, func(data []byte) {
		sb = super.Decode(data)
	})
	b.Release()
	if !sb.IsValid() {
		return nil, ErrInvalidFS
	}
	util.DPrintf(1, "efs: open %v\n", sb)
	return mkFileSystem(c, d, super.LayoutOf(sb)), nil
}

// RootInode returns a handle on the root directory.
func (fs *FileSystem) RootInode() Inode {
	fs.mu.Lock()
	blkno, off := fs.GetDiskInodePos(common.ROOTINUM)
	fs.mu.Unlock()
	return mkInode(fs, blkno, off)
}

// GetDiskInodePos returns the block and byte offset of inode inum's record.
func (fs *FileSystem) GetDiskInodePos(inum common.Inum) (common.Bnum, uint64) {
	a := addr.MkInodeAddr(fs.inodeAreaStart, inum)
	return a.Blkno, a.Off
}

// GetDataBlockID maps a data bitmap index to its physical block.
func (fs *FileSystem) GetDataBlockID(n uint32) common.Bnum {
	return fs.dataAreaStart + n
}

func (fs *FileSystem) allocInode() (common.Inum, error) {
	n, ok, err := fs.inodeBitmap.Alloc(fs.c, fs.d)
	if err != nil {
		return 0, errors.Wrap(err, "efs: alloc inode")
	}
	if !ok {
		return 0, ErrNoInodes
	}
	return common.Inum(n), nil
}

// AllocInode reserves the lowest free inode number. The record itself is
// not initialized.
func (fs *FileSystem) AllocInode() (common.Inum, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.allocInode()
}

func (fs *FileSystem) deallocInode(inum common.Inum) error {
	if err := fs.inodeBitmap.Dealloc(fs.c, fs.d, uint64(inum)); err != nil {
		return errors.Wrap(err, "efs: free inode")
	}
	return nil
}

// DeallocInode releases inode inum. Its content blocks must already have
// been freed.
func (fs *FileSystem) DeallocInode(inum common.Inum) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.deallocInode(inum)
}

func (fs *FileSystem) allocData() (common.Bnum, error) {
	n, ok, err := fs.dataBitmap.Alloc(fs.c, fs.d)
	if err != nil {
		return 0, errors.Wrap(err, "efs: alloc data")
	}
	if !ok || n >= uint64(fs.layout.DataAreaBlocks) {
		// the last bitmap block may cover more bits than the data area
		if ok {
			return 0, undo(ErrNoSpace, fs.dataBitmap.Dealloc(fs.c, fs.d, n))
		}
		return 0, ErrNoSpace
	}
	return fs.GetDataBlockID(uint32(n)), nil
}

// AllocData reserves the lowest free data block and returns its physical
// block number.
func (fs *FileSystem) AllocData() (common.Bnum, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.allocData()
}

func (fs *FileSystem) deallocData(bn common.Bnum) error {
	if bn < fs.dataAreaStart || bn >= fs.layout.End() {
		panic(fmt.Errorf("efs: free of non-data block %d", bn))
	}
	if err := zeroBlock(fs.c, fs.d, uint64(bn)); err != nil {
		return err
	}
	if err := fs.dataBitmap.Dealloc(fs.c, fs.d, uint64(bn-fs.dataAreaStart)); err != nil {
		return errors.Wrap(err, "efs: free data")
	}
	return nil
}

// DeallocData zeroes physical block bn and returns it to the free pool. The
// caller must have dropped every pointer to it.
func (fs *FileSystem) DeallocData(bn common.Bnum) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.deallocData(bn)
}

func (fs *FileSystem) Layout() super.Layout {
	return fs.layout
}

func (fs *FileSystem) Cache() *bcache.Cache {
	return fs.c
}

func (fs *FileSystem) Disk() disk.Disk {
	return fs.d
}

// Stat summarizes the file system.
type Stat struct {
	Layout     super.Layout `yaml:"layout"`
	Inodes     uint64       `yaml:"inodes"`
	FreeInodes uint64       `yaml:"freeInodes"`
	DataBlocks uint64       `yaml:"dataBlocks"`
	FreeData   uint64       `yaml:"freeData"`
}

func (fs *FileSystem) Stat() (Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	freeInodes, err := fs.inodeBitmap.NumFree(fs.c, fs.d)
	if err != nil {
		return Stat{}, err
	}
	freeBits, err := fs.dataBitmap.NumFree(fs.c, fs.d)
	if err != nil {
		return Stat{}, err
	}
	// bits past the data area are never allocated but count as free
	slack := fs.dataBitmap.Maximum() - uint64(fs.layout.DataAreaBlocks)
	return Stat{
		Layout:     fs.layout,
		Inodes:     fs.inodeBitmap.Maximum(),
		FreeInodes: freeInodes,
		DataBlocks: uint64(fs.layout.DataAreaBlocks),
		FreeData:   freeBits - slack,
	}, nil
}

// Sync writes all dirty cached blocks of the file system to the device.
func (fs *FileSystem) Sync() error {
	return fs.c.Flush(fs.d)
}

// Close syncs and drops the file system's blocks from the cache. It does
// not close the device.
func (fs *FileSystem) Close() error {
	return fs.c.Drop(fs.d)
}
