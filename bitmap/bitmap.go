// Package bitmap allocates numbered units (inode slots or data blocks) from
// a run of on-disk bitmap blocks.
//
// Each bitmap block holds WORDS little-endian 64-bit words; bit i of word w
// in block b tracks unit b*NBITBLOCK + w*64 + i. A set bit means the unit
// is allocated. All bitmap blocks are read and written through the block
// cache, so allocations become durable only when the cache is synced.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-easyfs/addr"
	"github.com/mit-pdos/go-easyfs/bcache"
	"github.com/mit-pdos/go-easyfs/common"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/util"
)

const WORDS uint64 = disk.BlockSize / 8

type Bitmap struct {
	start common.Bnum
	len   uint64
}

func MkBitmap(start common.Bnum, len uint64) *Bitmap {
	return &Bitmap{
		start: start,
		len:   len,
	}
}

func decodeWords(data []byte) []uint64 {
	dec := marshal.NewDec(data)
	return dec.GetInts(WORDS)
}

func encodeWords(words []uint64, data []byte) {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInts(words)
	copy(data, enc.Finish())
}

// Maximum is the number of units the bitmap can track.
func (bm *Bitmap) Maximum() uint64 {
	return bm.len * common.NBITBLOCK
}

// firstFree returns the index of the lowest clear bit, if any.
func firstFree(words []uint64) (uint64, bool) {
	for w, word := range words {
		if word != math.MaxUint64 {
			return uint64(w)*64 + uint64(bits.TrailingZeros64(^word)), true
		}
	}
	return 0, false
}

// Alloc marks the lowest-numbered free unit allocated and returns it. ok is
// false if every unit is in use; that is not an error.
func (bm *Bitmap) Alloc(c *bcache.Cache, d disk.Disk) (uint64, bool, error) {
	for i := uint64(0); i < bm.len; i++ {
		blkno := uint64(bm.start) + i
		b, err := c.Get(d, blkno)
		if err != nil {
			return 0, false, err
		}
		var full bool
		b.Read(0, disk.BlockSize, func(data []byte) {
			_, found := firstFree(decodeWords(data))
			full = !found
		})
		if full {
			b.Release()
			continue
		}
		var bit uint64
		var found bool
		b.Modify(0, disk.BlockSize, func(data []byte) {
			words := decodeWords(data)
			bit, found = firstFree(words)
			if found {
				w, pos := addr.MkAddr(common.Bnum(blkno), bit).Word()
				words[w] |= 1 << pos
				encodeWords(words, data)
			}
		})
		b.Release()
		if !found {
			continue
		}
		n := i*common.NBITBLOCK + bit
		util.DPrintf(10, "bitmap %d: alloc %d\n", bm.start, n)
		return n, true, nil
	}
	return 0, false, nil
}

// Dealloc frees unit n. Freeing a unit that is not allocated, or one past
// Maximum, panics: either means the caller's accounting is already broken.
func (bm *Bitmap) Dealloc(c *bcache.Cache, d disk.Disk, n uint64) error {
	if n >= bm.Maximum() {
		panic(fmt.Errorf("bitmap %d: dealloc %d out of range", bm.start, n))
	}
	a := addr.MkBitAddr(bm.start, n)
	b, err := c.Get(d, uint64(a.Blkno))
	if err != nil {
		return err
	}
	defer b.Release()
	w, pos := a.Word()
	b.Modify(w*8, 8, func(data []byte) {
		word := marshal.NewDec(data).GetInt()
		if word&(1<<pos) == 0 {
			panic(fmt.Errorf("bitmap %d: double free of %d", bm.start, n))
		}
		word &^= 1 << pos
		enc := marshal.NewEnc(8)
		enc.PutInt(word)
		copy(data, enc.Finish())
	})
	util.DPrintf(10, "bitmap %d: free %d\n", bm.start, n)
	return nil
}

// IsAllocated reports whether unit n is in use.
func (bm *Bitmap) IsAllocated(c *bcache.Cache, d disk.Disk, n uint64) (bool, error) {
	if n >= bm.Maximum() {
		return false, nil
	}
	a := addr.MkBitAddr(bm.start, n)
	b, err := c.Get(d, uint64(a.Blkno))
	if err != nil {
		return false, err
	}
	defer b.Release()
	w, pos := a.Word()
	var set bool
	b.Read(w*8, 8, func(data []byte) {
		set = marshal.NewDec(data).GetInt()&(1<<pos) != 0
	})
	return set, nil
}

func popCnt(b uint64) uint64 {
	return uint64(bits.OnesCount64(b))
}

// NumFree counts the free units.
func (bm *Bitmap) NumFree(c *bcache.Cache, d disk.Disk) (uint64, error) {
	var used uint64
	for i := uint64(0); i < bm.len; i++ {
		b, err := c.Get(d, uint64(bm.start)+i)
		if err != nil {
			return 0, err
		}
		b.Read(0, disk.BlockSize, func(data []byte) {
			for _, w := range decodeWords(data) {
				used += popCnt(w)
			}
		})
		b.Release()
	}
	return bm.Maximum() - used, nil
}
