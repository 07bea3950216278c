package bcache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/util"
)

// A Buf is the cached copy of one disk block.
//
// The block's bytes and dirty flag are protected by the Buf's own lock and
// only reachable through Read and Modify. The reference count and LRU
// position belong to the owning Cache and are protected by its lock.
type Buf struct {
	mu    *sync.Mutex
	d     disk.Disk
	Blkno uint64
	data  disk.Block
	dirty bool

	c    *Cache
	refs uint64
	elem *list.Element
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf{%d}", b.Blkno)
}

func (b *Buf) window(off uint64, sz uint64) []byte {
	if util.SumOverflows(off, sz) || off+sz > disk.BlockSize {
		panic(fmt.Errorf("bcache: window [%d,+%d) outside block %d", off, sz, b.Blkno))
	}
	return b.data[off : off+sz]
}

// Read calls f with the sz bytes at off. f must not retain the slice or
// call back into the cache.
func (b *Buf) Read(off uint64, sz uint64, f func([]byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b.window(off, sz))
}

// Modify is like Read but f may change the bytes, and the block is marked
// dirty.
func (b *Buf) Modify(off uint64, sz uint64, f func([]byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b.window(off, sz))
	b.dirty = true
}

func (b *Buf) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// writeBack assumes b.mu is held
func (b *Buf) writeBack() error {
	if !b.dirty {
		return nil
	}
	util.DPrintf(5, "bcache: write back %d\n", b.Blkno)
	if err := b.d.Write(b.Blkno, b.data); err != nil {
		return errors.Wrapf(err, "bcache: write block %d", b.Blkno)
	}
	b.dirty = false
	atomic.AddUint64(&b.c.stats.Writebacks, 1)
	return nil
}

// Sync writes the block to the device if it is dirty.
func (b *Buf) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeBack()
}

// Release drops the caller's reference obtained from Get.
func (b *Buf) Release() {
	b.c.release(b)
}
