package common

import (
	"github.com/mit-pdos/go-easyfs/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8
	INODESZ   uint64 = 128 // on-disk size
	INODEBLK  uint64 = disk.BlockSize / INODESZ

	// EFSMAGIC identifies a formatted device in the superblock
	EFSMAGIC uint32 = 0x3b800001

	// NBCACHE is the default number of cached blocks
	NBCACHE uint64 = 16
)

// Inum is an index into the inode bitmap.
type Inum uint32

// Bnum is a physical block number on the device.
type Bnum = uint32

const ROOTINUM Inum = 0
