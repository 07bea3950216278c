// Package bcache is a fixed-capacity write-back block cache.
//
// Every block access of the file system goes through a Cache. A block is
// read from its device the first time it is requested and stays cached until
// it is evicted; modifications only mark the buffer dirty, and the device is
// written when the buffer is evicted or explicitly synced.
//
// Eviction picks the least recently used buffer that no caller holds. A
// caller must Release each buffer it obtained with Get; if every cached
// buffer is held when a new block is needed, Get panics, since the cache is
// sized for the working set of a single file-system operation.
package bcache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/util"
)

type key struct {
	d  disk.Disk
	bn uint64
}

// Stats counts cache events since the cache was made.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Writebacks uint64
}

type Cache struct {
	mu       *sync.Mutex
	capacity uint64
	bufs     map[key]*Buf
	lru      *list.List // front is least recently used
	stats    Stats
}

func MkCache(capacity uint64) *Cache {
	if capacity == 0 {
		panic("MkCache")
	}
	return &Cache{
		mu:       new(sync.Mutex),
		capacity: capacity,
		bufs:     make(map[key]*Buf),
		lru:      list.New(),
	}
}

// Get returns a referenced buffer for block bn of d, loading it from d if it
// is not cached. The caller must Release it.
func (c *Cache) Get(d disk.Disk, bn uint64) (*Buf, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{d, bn}
	if b, ok := c.bufs[k]; ok {
		b.refs += 1
		c.lru.MoveToBack(b.elem)
		atomic.AddUint64(&c.stats.Hits, 1)
		return b, nil
	}
	atomic.AddUint64(&c.stats.Misses, 1)
	if uint64(len(c.bufs)) >= c.capacity {
		if err := c.evict(); err != nil {
			return nil, err
		}
	}
	blk, err := d.Read(bn)
	if err != nil {
		return nil, errors.Wrapf(err, "bcache: read block %d", bn)
	}
	b := &Buf{
		mu:    new(sync.Mutex),
		d:     d,
		Blkno: bn,
		data:  blk,
		c:     c,
		refs:  1,
	}
	b.elem = c.lru.PushBack(b)
	c.bufs[k] = b
	util.DPrintf(10, "bcache: load %d\n", bn)
	return b, nil
}

// evict removes the least recently used unreferenced buffer, writing it back
// first if dirty. Assumes c.mu is held.
func (c *Cache) evict() error {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buf)
		if b.refs > 0 {
			continue
		}
		b.mu.Lock()
		err := b.writeBack()
		b.mu.Unlock()
		if err != nil {
			return err
		}
		c.remove(b)
		util.DPrintf(10, "bcache: evict %d\n", b.Blkno)
		return nil
	}
	panic("bcache: all buffers in use")
}

// Assumes c.mu is held.
func (c *Cache) remove(b *Buf) {
	c.lru.Remove(b.elem)
	delete(c.bufs, key{b.d, b.Blkno})
	b.elem = nil
}

func (c *Cache) release(b *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.refs == 0 {
		panic("bcache: release of unreferenced buffer")
	}
	b.refs -= 1
}

// snapshot returns the cached buffers, optionally only those of d.
func (c *Cache) snapshot(d disk.Disk) []*Buf {
	c.mu.Lock()
	defer c.mu.Unlock()
	bufs := make([]*Buf, 0, len(c.bufs))
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Buf)
		if d == nil || b.d == d {
			bufs = append(bufs, b)
		}
	}
	return bufs
}

func syncBufs(bufs []*Buf) error {
	var first error
	devs := make(map[disk.Disk]bool)
	for _, b := range bufs {
		if err := b.Sync(); err != nil && first == nil {
			first = err
		}
		devs[b.d] = true
	}
	for d := range devs {
		if err := d.Barrier(); err != nil && first == nil {
			first = errors.Wrap(err, "bcache: barrier")
		}
	}
	return first
}

// SyncAll writes every dirty buffer back to its device and issues a barrier
// on each device that has cached blocks. It keeps going after an error and
// returns the first one.
func (c *Cache) SyncAll() error {
	return syncBufs(c.snapshot(nil))
}

// Flush is SyncAll restricted to the blocks of d.
func (c *Cache) Flush(d disk.Disk) error {
	return syncBufs(c.snapshot(d))
}

// Drop flushes d and then forgets its unreferenced buffers, so later
// accesses go back to the device. It is used before closing a device.
func (c *Cache) Drop(d disk.Disk) error {
	if err := c.Flush(d); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.bufs {
		if b.d != d || b.refs > 0 {
			continue
		}
		b.mu.Lock()
		dirty := b.dirty
		b.mu.Unlock()
		if !dirty {
			c.remove(b)
		}
	}
	return nil
}

// Len reports how many blocks are cached.
func (c *Cache) Len() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.bufs))
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:       atomic.LoadUint64(&c.stats.Hits),
		Misses:     atomic.LoadUint64(&c.stats.Misses),
		Writebacks: atomic.LoadUint64(&c.stats.Writebacks),
	}
}
