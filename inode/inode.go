// Package inode implements the on-disk inode record and the block map it
// carries: NDIRECT direct pointers, one single-indirect block and one
// double-indirect block. Every block touched goes through the block cache.
//
// A DiskInode is an in-memory copy of a record: Load it, operate on it, and
// Store it back. Operations never call back into the cache while holding a
// buffer, so they are safe to use under the file system lock.
package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-easyfs/bcache"
	"github.com/mit-pdos/go-easyfs/common"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/util"
)

const (
	NDIRECT   uint32 = 28
	NINDIRECT uint32 = uint32(disk.BlockSize / 4)

	INDIRECT1_BOUND uint32 = NDIRECT + NINDIRECT
	INDIRECT2_BOUND uint32 = INDIRECT1_BOUND + NINDIRECT*NINDIRECT

	// MAXFILESZ is the largest size the block map can address.
	MAXFILESZ uint64 = uint64(INDIRECT2_BOUND) * disk.BlockSize
)

type Type uint32

const (
	File      Type = 0
	Directory Type = 1
)

func (t Type) String() string {
	switch t {
	case File:
		return "file"
	case Directory:
		return "dir"
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

type DiskInode struct {
	Size      uint32
	Direct    [NDIRECT]common.Bnum
	Indirect1 common.Bnum
	Indirect2 common.Bnum
	Type      Type
}

// Initialize resets the record to an empty inode of type t.
func (di *DiskInode) Initialize(t Type) {
	*di = DiskInode{Type: t}
}

func (di *DiskInode) IsDir() bool {
	return di.Type == Directory
}

func (di *DiskInode) IsFile() bool {
	return di.Type == File
}

func (di *DiskInode) Encode(b []byte) {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(di.Size)
	for _, bn := range di.Direct {
		enc.PutInt32(bn)
	}
	enc.PutInt32(di.Indirect1)
	enc.PutInt32(di.Indirect2)
	enc.PutInt32(uint32(di.Type))
	copy(b[:common.INODESZ], enc.Finish())
}

func Decode(b []byte) *DiskInode {
	dec := marshal.NewDec(b[:common.INODESZ])
	di := &DiskInode{}
	di.Size = dec.GetInt32()
	for i := range di.Direct {
		di.Direct[i] = dec.GetInt32()
	}
	di.Indirect1 = dec.GetInt32()
	di.Indirect2 = dec.GetInt32()
	di.Type = Type(dec.GetInt32())
	return di
}

// Load reads the record at byte offset off of block blkno.
func Load(c *bcache.Cache, d disk.Disk, blkno common.Bnum, off uint64) (*DiskInode, error) {
	b, err := c.Get(d, uint64(blkno))
	if err != nil {
		return nil, err
	}
	defer b.Release()
	var di *DiskInode
	b.Read(off, common.INODESZ, func(data []byte) {
		di = Decode(data)
	})
	return di, nil
}

// Store writes the record to byte offset off of block blkno.
func (di *DiskInode) Store(c *bcache.Cache, d disk.Disk, blkno common.Bnum, off uint64) error {
	b, err := c.Get(d, uint64(blkno))
	if err != nil {
		return err
	}
	defer b.Release()
	b.Modify(off, common.INODESZ, func(data []byte) {
		di.Encode(data)
	})
	return nil
}

func dataBlocks(size uint32) uint32 {
	return uint32(util.RoundUp(uint64(size), disk.BlockSize))
}

// DataBlocks is the number of content blocks for the current size.
func (di *DiskInode) DataBlocks() uint32 {
	return dataBlocks(di.Size)
}

// TotalBlocks is the number of blocks, content plus indirect, needed for a
// file of size bytes.
func TotalBlocks(size uint32) uint32 {
	data := dataBlocks(size)
	total := data
	if data > NDIRECT {
		total += 1
	}
	if data > INDIRECT1_BOUND {
		total += 1
		total += uint32(util.RoundUp(uint64(data-INDIRECT1_BOUND), uint64(NINDIRECT)))
	}
	return total
}

// BlocksNeeded is how many new blocks growing to newSize requires.
func (di *DiskInode) BlocksNeeded(newSize uint32) uint32 {
	if newSize < di.Size {
		panic("BlocksNeeded")
	}
	return TotalBlocks(newSize) - TotalBlocks(di.Size)
}

func readPtr(c *bcache.Cache, d disk.Disk, blkno common.Bnum, i uint32) (common.Bnum, error) {
	b, err := c.Get(d, uint64(blkno))
	if err != nil {
		return 0, err
	}
	defer b.Release()
	var bn common.Bnum
	b.Read(uint64(i)*4, 4, func(data []byte) {
		bn = marshal.NewDec(data).GetInt32()
	})
	return bn, nil
}

func readPtrs(c *bcache.Cache, d disk.Disk, blkno common.Bnum, n uint32) ([]common.Bnum, error) {
	b, err := c.Get(d, uint64(blkno))
	if err != nil {
		return nil, err
	}
	defer b.Release()
	ptrs := make([]common.Bnum, n)
	b.Read(0, uint64(n)*4, func(data []byte) {
		dec := marshal.NewDec(data)
		for i := range ptrs {
			ptrs[i] = dec.GetInt32()
		}
	})
	return ptrs, nil
}

func writePtr(c *bcache.Cache, d disk.Disk, blkno common.Bnum, i uint32, bn common.Bnum) error {
	b, err := c.Get(d, uint64(blkno))
	if err != nil {
		return err
	}
	defer b.Release()
	b.Modify(uint64(i)*4, 4, func(data []byte) {
		enc := marshal.NewEnc(4)
		enc.PutInt32(bn)
		copy(data, enc.Finish())
	})
	return nil
}

// BlockID maps the inner-th content block of the file to a block number.
func (di *DiskInode) BlockID(c *bcache.Cache, d disk.Disk, inner uint32) (common.Bnum, error) {
	if inner < NDIRECT {
		return di.Direct[inner], nil
	}
	if inner < INDIRECT1_BOUND {
		return readPtr(c, d, di.Indirect1, inner-NDIRECT)
	}
	last := inner - INDIRECT1_BOUND
	ind1, err := readPtr(c, d, di.Indirect2, last/NINDIRECT)
	if err != nil {
		return 0, err
	}
	return readPtr(c, d, ind1, last%NINDIRECT)
}

// IncreaseSize grows the file to newSize, wiring in newBlocks (exactly
// BlocksNeeded(newSize) zeroed blocks) as content and indirect blocks.
func (di *DiskInode) IncreaseSize(c *bcache.Cache, d disk.Disk, newSize uint32, newBlocks []common.Bnum) error {
	if uint32(len(newBlocks)) != di.BlocksNeeded(newSize) {
		panic("IncreaseSize")
	}
	next := 0
	take := func() common.Bnum {
		bn := newBlocks[next]
		next++
		return bn
	}

	cur := di.DataBlocks()
	di.Size = newSize
	total := di.DataBlocks()

	for cur < total && cur < NDIRECT {
		di.Direct[cur] = take()
		cur++
	}
	if total <= NDIRECT {
		return nil
	}

	if cur == NDIRECT {
		di.Indirect1 = take()
	}
	cur -= NDIRECT
	total -= NDIRECT
	for cur < total && cur < NINDIRECT {
		if err := writePtr(c, d, di.Indirect1, cur, take()); err != nil {
			return err
		}
		cur++
	}
	if total <= NINDIRECT {
		return nil
	}

	if cur == NINDIRECT {
		di.Indirect2 = take()
	}
	cur -= NINDIRECT
	total -= NINDIRECT
	a0, b0 := cur/NINDIRECT, cur%NINDIRECT
	a1, b1 := total/NINDIRECT, total%NINDIRECT
	for a0 < a1 || (a0 == a1 && b0 < b1) {
		if b0 == 0 {
			if err := writePtr(c, d, di.Indirect2, a0, take()); err != nil {
				return err
			}
		}
		ind1, err := readPtr(c, d, di.Indirect2, a0)
		if err != nil {
			return err
		}
		if err := writePtr(c, d, ind1, b0, take()); err != nil {
			return err
		}
		b0++
		if b0 == NINDIRECT {
			b0 = 0
			a0++
		}
	}
	return nil
}

// ClearSize truncates the file to zero and returns every block it used,
// content and indirect, for the caller to free.
func (di *DiskInode) ClearSize(c *bcache.Cache, d disk.Disk) ([]common.Bnum, error) {
	freed := make([]common.Bnum, 0, TotalBlocks(di.Size))
	data := di.DataBlocks()
	di.Size = 0

	for i := uint32(0); i < data && i < NDIRECT; i++ {
		freed = append(freed, di.Direct[i])
		di.Direct[i] = 0
	}
	if data <= NDIRECT {
		return freed, nil
	}

	data -= NDIRECT
	freed = append(freed, di.Indirect1)
	ptrs, err := readPtrs(c, d, di.Indirect1, min32(data, NINDIRECT))
	if err != nil {
		return nil, err
	}
	freed = append(freed, ptrs...)
	di.Indirect1 = 0
	if data <= NINDIRECT {
		return freed, nil
	}

	data -= NINDIRECT
	freed = append(freed, di.Indirect2)
	a1, b1 := data/NINDIRECT, data%NINDIRECT
	if b1 > 0 {
		a1++
	}
	ind1s, err := readPtrs(c, d, di.Indirect2, a1)
	if err != nil {
		return nil, err
	}
	for i, ind1 := range ind1s {
		n := NINDIRECT
		if uint32(i) == a1-1 && b1 > 0 {
			n = b1
		}
		ptrs, err := readPtrs(c, d, ind1, n)
		if err != nil {
			return nil, err
		}
		freed = append(freed, ind1)
		freed = append(freed, ptrs...)
	}
	di.Indirect2 = 0
	return freed, nil
}

func min32(a, b uint32) uint32 {
	return uint32(util.Min(uint64(a), uint64(b)))
}

// rw walks the content blocks covering [off, off+len(buf)) clipped to the
// file size, calling f for each block-sized piece.
func (di *DiskInode) rw(c *bcache.Cache, d disk.Disk, off uint64, buf []byte,
	f func(b *bcache.Buf, boff uint64, p []byte)) (int, error) {
	start := off
	end := util.Min(off+uint64(len(buf)), uint64(di.Size))
	if start >= end {
		return 0, nil
	}
	var done uint64
	for start < end {
		blockEnd := util.Min((start/disk.BlockSize+1)*disk.BlockSize, end)
		n := blockEnd - start
		bn, err := di.BlockID(c, d, uint32(start/disk.BlockSize))
		if err != nil {
			return int(done), err
		}
		b, err := c.Get(d, uint64(bn))
		if err != nil {
			return int(done), err
		}
		f(b, start%disk.BlockSize, buf[done:done+n])
		b.Release()
		done += n
		start = blockEnd
	}
	return int(done), nil
}

// ReadAt copies file content at off into buf and returns the number of bytes
// read, which is short at end of file.
func (di *DiskInode) ReadAt(c *bcache.Cache, d disk.Disk, off uint64, buf []byte) (int, error) {
	return di.rw(c, d, off, buf, func(b *bcache.Buf, boff uint64, p []byte) {
		b.Read(boff, uint64(len(p)), func(data []byte) {
			copy(p, data)
		})
	})
}

// WriteAt copies buf into the file at off. It does not grow the file; bytes
// past Size are not written.
func (di *DiskInode) WriteAt(c *bcache.Cache, d disk.Disk, off uint64, buf []byte) (int, error) {
	return di.rw(c, d, off, buf, func(b *bcache.Buf, boff uint64, p []byte) {
		b.Modify(boff, uint64(len(p)), func(data []byte) {
			copy(data, p)
		})
	})
}
