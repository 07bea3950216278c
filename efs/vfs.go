package efs

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-easyfs/common"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/inode"
	"github.com/mit-pdos/go-easyfs/util"
)

var (
	ErrNotFound   = errors.New("efs: no such file or directory")
	ErrExists     = errors.New("efs: file exists")
	ErrNotDir     = errors.New("efs: not a directory")
	ErrIsDir      = errors.New("efs: is a directory")
	ErrFileTooBig = errors.New("efs: file too large")
	ErrBadName    = errors.New("efs: invalid name")
)

// Inode is a handle on one on-disk inode record. Many handles may name the
// same record; each operation takes the file system lock for its duration.
type Inode struct {
	blockID     common.Bnum
	blockOffset uint64
	fs          *FileSystem
	d           disk.Disk
}

func mkInode(fs *FileSystem, blkno common.Bnum, off uint64) Inode {
	return Inode{
		blockID:     blkno,
		blockOffset: off,
		fs:          fs,
		d:           fs.d,
	}
}

// Inum recovers the inode number from the record position.
func (ip Inode) Inum() common.Inum {
	blk := uint64(ip.blockID - ip.fs.inodeAreaStart)
	return common.Inum(blk*common.INODEBLK + ip.blockOffset/common.INODESZ)
}

func (ip Inode) load() (*inode.DiskInode, error) {
	return inode.Load(ip.fs.c, ip.d, ip.blockID, ip.blockOffset)
}

func (ip Inode) store(di *inode.DiskInode) error {
	return di.Store(ip.fs.c, ip.d, ip.blockID, ip.blockOffset)
}

func (ip Inode) Type() (inode.Type, error) {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return 0, err
	}
	return di.Type, nil
}

func (ip Inode) Size() (uint64, error) {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return 0, err
	}
	return uint64(di.Size), nil
}

// entries returns the directory entries of di with their slot numbers;
// free slots have an empty name.
func (ip Inode) entries(di *inode.DiskInode) ([]inode.DirEntry, error) {
	if !di.IsDir() {
		return nil, ErrNotDir
	}
	n := di.Size / inode.DIRENTSZ
	buf := make([]byte, di.Size)
	if _, err := di.ReadAt(ip.fs.c, ip.d, 0, buf); err != nil {
		return nil, err
	}
	des := make([]inode.DirEntry, n)
	for i := range des {
		des[i] = inode.DecodeDirEntry(buf[i*inode.DIRENTSZ:])
	}
	return des, nil
}

func (ip Inode) lookup(di *inode.DiskInode, name string) (common.Inum, int, error) {
	des, err := ip.entries(di)
	if err != nil {
		return 0, 0, err
	}
	for i, de := range des {
		if de.Name() != "" && de.Name() == name {
			return de.Inum, i, nil
		}
	}
	return 0, 0, ErrNotFound
}

func (ip Inode) child(inum common.Inum) Inode {
	blkno, off := ip.fs.GetDiskInodePos(inum)
	return mkInode(ip.fs, blkno, off)
}

// Find looks up name in this directory.
func (ip Inode) Find(name string) (Inode, error) {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return Inode{}, err
	}
	inum, _, err := ip.lookup(di, name)
	if err != nil {
		return Inode{}, err
	}
	return ip.child(inum), nil
}

// Ls lists the names in this directory in slot order.
func (ip Inode) Ls() ([]string, error) {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return nil, err
	}
	des, err := ip.entries(di)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(des))
	for _, de := range des {
		if de.Name() != "" {
			names = append(names, de.Name())
		}
	}
	return names, nil
}

// increaseSize grows di to newSize, allocating its blocks. If the data area
// runs out, blocks taken so far are returned and di is unchanged.
func (ip Inode) increaseSize(di *inode.DiskInode, newSize uint64) error {
	if newSize > inode.MAXFILESZ || newSize > 1<<32-1 {
		return ErrFileTooBig
	}
	if newSize <= uint64(di.Size) {
		return nil
	}
	need := di.BlocksNeeded(uint32(newSize))
	blocks := make([]common.Bnum, 0, need)
	for i := uint32(0); i < need; i++ {
		bn, err := ip.fs.allocData()
		if err != nil {
			for _, b := range blocks {
				if rerr := ip.fs.deallocData(b); rerr != nil {
					return undo(err, rerr)
				}
			}
			return err
		}
		blocks = append(blocks, bn)
	}
	return di.IncreaseSize(ip.fs.c, ip.d, uint32(newSize), blocks)
}

func (ip Inode) create(name string, t inode.Type) (Inode, error) {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return Inode{}, ErrBadName
	}
	de, err := inode.MkDirEntry(name, 0)
	if err != nil {
		return Inode{}, err
	}
	di, err := ip.load()
	if err != nil {
		return Inode{}, err
	}
	des, err := ip.entries(di)
	if err != nil {
		return Inode{}, err
	}
	slot := len(des)
	for i, e := range des {
		if e.Name() == name {
			return Inode{}, ErrExists
		}
		if e.Name() == "" && slot == len(des) {
			slot = i
		}
	}

	inum, err := ip.fs.allocInode()
	if err != nil {
		return Inode{}, err
	}
	child := ip.child(inum)
	cdi := &inode.DiskInode{}
	cdi.Initialize(t)
	if err := child.store(cdi); err != nil {
		return Inode{}, undo(err, ip.fs.deallocInode(inum))
	}

	off := uint64(slot) * inode.DIRENTSZ
	if err := ip.increaseSize(di, off+inode.DIRENTSZ); err != nil {
		return Inode{}, undo(err, ip.fs.deallocInode(inum))
	}
	de.Inum = inum
	if _, err := di.WriteAt(ip.fs.c, ip.d, off, de.Encode()); err != nil {
		return Inode{}, err
	}
	if err := ip.store(di); err != nil {
		return Inode{}, err
	}
	util.DPrintf(3, "efs: create %q inum %d slot %d\n", name, inum, slot)
	return child, ip.fs.Sync()
}

// Create makes an empty regular file named name in this directory.
func (ip Inode) Create(name string) (Inode, error) {
	return ip.create(name, inode.File)
}

// Mkdir makes an empty directory named name in this directory.
func (ip Inode) Mkdir(name string) (Inode, error) {
	return ip.create(name, inode.Directory)
}

// ReadAt reads file content at off into buf, returning a short count at end
// of file.
func (ip Inode) ReadAt(off uint64, buf []byte) (int, error) {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return 0, err
	}
	return di.ReadAt(ip.fs.c, ip.d, off, buf)
}

// WriteAt writes buf at off, growing the file as needed. An empty write
// never changes the file.
func (ip Inode) WriteAt(off uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return 0, err
	}
	if err := ip.increaseSize(di, off+uint64(len(buf))); err != nil {
		return 0, err
	}
	n, err := di.WriteAt(ip.fs.c, ip.d, off, buf)
	if err != nil {
		return n, err
	}
	if err := ip.store(di); err != nil {
		return n, err
	}
	return n, ip.fs.Sync()
}

func (ip Inode) clear(di *inode.DiskInode) error {
	size := di.Size
	freed, err := di.ClearSize(ip.fs.c, ip.d)
	if err != nil {
		return err
	}
	if uint32(len(freed)) != inode.TotalBlocks(size) {
		panic("clear")
	}
	for _, bn := range freed {
		if err := ip.fs.deallocData(bn); err != nil {
			return err
		}
	}
	return ip.store(di)
}

// Clear truncates the file to zero length, freeing all of its blocks.
func (ip Inode) Clear() error {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return err
	}
	if err := ip.clear(di); err != nil {
		return err
	}
	return ip.fs.Sync()
}

// Unlink removes the regular file name from this directory, freeing its
// blocks and inode. The directory slot is left empty for reuse.
func (ip Inode) Unlink(name string) error {
	ip.fs.mu.Lock()
	defer ip.fs.mu.Unlock()
	di, err := ip.load()
	if err != nil {
		return err
	}
	inum, slot, err := ip.lookup(di, name)
	if err != nil {
		return err
	}
	child := ip.child(inum)
	cdi, err := child.load()
	if err != nil {
		return err
	}
	if cdi.IsDir() {
		return ErrIsDir
	}
	if err := child.clear(cdi); err != nil {
		return err
	}
	if err := ip.fs.deallocInode(inum); err != nil {
		return err
	}
	empty := make([]byte, inode.DIRENTSZ)
	if _, err := di.WriteAt(ip.fs.c, ip.d, uint64(slot)*inode.DIRENTSZ, empty); err != nil {
		return err
	}
	return ip.fs.Sync()
}
