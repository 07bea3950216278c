package inode

import (
	"bytes"
	"errors"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-easyfs/common"
)

const (
	// NAMELEN is the longest name a directory entry holds; the name field
	// is always NUL terminated.
	NAMELEN   = 27
	DIRENTSZ  = 32
	nameField = NAMELEN + 1
)

var ErrNameTooLong = errors.New("inode: name too long")

// A DirEntry maps a name to an inode number. Directory content is a packed
// array of entries.
type DirEntry struct {
	name [nameField]byte
	Inum common.Inum
}

func MkDirEntry(name string, inum common.Inum) (DirEntry, error) {
	var de DirEntry
	if len(name) > NAMELEN {
		return de, ErrNameTooLong
	}
	copy(de.name[:], name)
	de.Inum = inum
	return de, nil
}

func (de DirEntry) Name() string {
	n := bytes.IndexByte(de.name[:], 0)
	if n < 0 {
		n = len(de.name)
	}
	return string(de.name[:n])
}

func (de DirEntry) Encode() []byte {
	enc := marshal.NewEnc(DIRENTSZ)
	enc.PutBytes(de.name[:])
	enc.PutInt32(uint32(de.Inum))
	return enc.Finish()
}

func DecodeDirEntry(b []byte) DirEntry {
	dec := marshal.NewDec(b[:DIRENTSZ])
	var de DirEntry
	copy(de.name[:], dec.GetBytes(nameField))
	de.Inum = common.Inum(dec.GetInt32())
	return de
}
