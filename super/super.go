// Package super defines the superblock and the region layout derived from
// it.
//
// The device is laid out as
//
//	[ super | inode bitmap | inode area | data bitmap | data area ]
//	  0       1              ...
//
// The superblock records only the size of each region; every start block is
// computed from those sizes.
package super

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-easyfs/common"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/util"
)

// SUPERSZ is the encoded size of a SuperBlock at the start of block 0.
const SUPERSZ uint64 = 6 * 4

// ErrGeometry is returned when a device is too small for the requested
// inode bitmap.
var ErrGeometry = errors.New("super: device too small for layout")

type SuperBlock struct {
	Magic             uint32
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks   uint32
	DataBitmapBlocks  uint32
	DataAreaBlocks    uint32
}

func (sb *SuperBlock) Initialize(l Layout) {
	*sb = SuperBlock{
		Magic:             common.EFSMAGIC,
		TotalBlocks:       l.TotalBlocks,
		InodeBitmapBlocks: l.InodeBitmapBlocks,
		InodeAreaBlocks:   l.InodeAreaBlocks,
		DataBitmapBlocks:  l.DataBitmapBlocks,
		DataAreaBlocks:    l.DataAreaBlocks,
	}
}

func (sb SuperBlock) IsValid() bool {
	return sb.Magic == common.EFSMAGIC
}

func (sb *SuperBlock) Encode(b []byte) {
	enc := marshal.NewEnc(SUPERSZ)
	enc.PutInt32(sb.Magic)
	enc.PutInt32(sb.TotalBlocks)
	enc.PutInt32(sb.InodeBitmapBlocks)
	enc.PutInt32(sb.InodeAreaBlocks)
	enc.PutInt32(sb.DataBitmapBlocks)
	enc.PutInt32(sb.DataAreaBlocks)
	copy(b[:SUPERSZ], enc.Finish())
}

func Decode(b []byte) SuperBlock {
	dec := marshal.NewDec(b[:SUPERSZ])
	var sb SuperBlock
	sb.Magic = dec.GetInt32()
	sb.TotalBlocks = dec.GetInt32()
	sb.InodeBitmapBlocks = dec.GetInt32()
	sb.InodeAreaBlocks = dec.GetInt32()
	sb.DataBitmapBlocks = dec.GetInt32()
	sb.DataAreaBlocks = dec.GetInt32()
	return sb
}

func (sb SuperBlock) String() string {
	return fmt.Sprintf("super{total %d ibitmap %d iarea %d dbitmap %d darea %d}",
		sb.TotalBlocks, sb.InodeBitmapBlocks, sb.InodeAreaBlocks,
		sb.DataBitmapBlocks, sb.DataAreaBlocks)
}

// Layout holds the region sizes of a file system, in blocks.
type Layout struct {
	TotalBlocks       uint32 `yaml:"totalBlocks"`
	InodeBitmapBlocks uint32 `yaml:"inodeBitmapBlocks"`
	InodeAreaBlocks   uint32 `yaml:"inodeAreaBlocks"`
	DataBitmapBlocks  uint32 `yaml:"dataBitmapBlocks"`
	DataAreaBlocks    uint32 `yaml:"dataAreaBlocks"`
}

// ComputeLayout sizes the regions of a new file system. The inode area holds
// one record per inode bitmap bit; the data bitmap gets one block per 4096
// data blocks, rounded so the bitmap can cover the rest of the device.
func ComputeLayout(totalBlocks uint32, inodeBitmapBlocks uint32) (Layout, error) {
	if inodeBitmapBlocks == 0 {
		return Layout{}, ErrGeometry
	}
	inodes := uint64(inodeBitmapBlocks) * common.NBITBLOCK
	inodeArea := util.RoundUp(inodes*common.INODESZ, disk.BlockSize)
	// at least one data bitmap block and one data block
	if uint64(totalBlocks) < 1+uint64(inodeBitmapBlocks)+inodeArea+2 {
		return Layout{}, ErrGeometry
	}
	dataTotal := uint64(totalBlocks) - 1 - uint64(inodeBitmapBlocks) - inodeArea
	dataBitmap := (dataTotal + common.NBITBLOCK) / (common.NBITBLOCK + 1)
	return Layout{
		TotalBlocks:       totalBlocks,
		InodeBitmapBlocks: inodeBitmapBlocks,
		InodeAreaBlocks:   uint32(inodeArea),
		DataBitmapBlocks:  uint32(dataBitmap),
		DataAreaBlocks:    uint32(dataTotal - dataBitmap),
	}, nil
}

func LayoutOf(sb SuperBlock) Layout {
	return Layout{
		TotalBlocks:       sb.TotalBlocks,
		InodeBitmapBlocks: sb.InodeBitmapBlocks,
		InodeAreaBlocks:   sb.InodeAreaBlocks,
		DataBitmapBlocks:  sb.DataBitmapBlocks,
		DataAreaBlocks:    sb.DataAreaBlocks,
	}
}

func (l Layout) InodeBitmapStart() common.Bnum {
	return 1
}

func (l Layout) InodeAreaStart() common.Bnum {
	return l.InodeBitmapStart() + l.InodeBitmapBlocks
}

func (l Layout) DataBitmapStart() common.Bnum {
	return l.InodeAreaStart() + l.InodeAreaBlocks
}

func (l Layout) DataAreaStart() common.Bnum {
	return l.DataBitmapStart() + l.DataBitmapBlocks
}

// End is one past the last block of the data area.
func (l Layout) End() common.Bnum {
	return l.DataAreaStart() + l.DataAreaBlocks
}
