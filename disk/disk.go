package disk

import (
	"errors"
)

// Block is a 512-byte buffer
type Block = []byte

const BlockSize uint64 = 512

var (
	// ErrOutOfRange is returned for an access at or past Size().
	ErrOutOfRange = errors.New("disk: block address out of range")
	// ErrShortIO is returned when the backing store transfers less than a
	// full block.
	ErrShortIO = errors.New("disk: short block transfer")
	// ErrBlockSize is returned when a caller passes a buffer that is not
	// exactly one block.
	ErrBlockSize = errors.New("disk: buffer is not block-sized")
)

// Disk provides access to a logical block-based disk.
//
// Implementations must be comparable (pointer types), since a Disk value
// identifies its device in the block cache.
type Disk interface {
	// Read reads a disk block by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

func checkBlock(a uint64, n uint64, b Block) error {
	if uint64(len(b)) != BlockSize {
		return ErrBlockSize
	}
	if a >= n {
		return ErrOutOfRange
	}
	return nil
}
