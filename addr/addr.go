package addr

import (
	"github.com/mit-pdos/go-easyfs/common"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block. For bitmap bits Off is a bit offset; for
// inodes it is a byte offset. The size of the object is determined by the
// context in which Addr is used.
type Addr struct {
	Blkno common.Bnum
	Off   uint64
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr locates bit n of a bitmap whose first block is start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	return MkAddr(start+common.Bnum(i), bit)
}

// MkInodeAddr locates the on-disk record of inode inum in an inode area
// starting at block start. Off is in bytes.
func MkInodeAddr(start common.Bnum, inum common.Inum) Addr {
	i := uint64(inum) / common.INODEBLK
	off := (uint64(inum) % common.INODEBLK) * common.INODESZ
	return MkAddr(start+common.Bnum(i), off)
}

// Word returns the index of the 64-bit bitmap word holding a bit address
// and the bit's position within that word.
func (a Addr) Word() (uint64, uint64) {
	return a.Off / 64, a.Off % 64
}
