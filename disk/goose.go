package disk

import (
	"sync"

	goose "github.com/tchajed/goose/machine/disk"
)

var _ Disk = (*gooseDisk)(nil)

// gooseDisk packs several BlockSize blocks into each block of a goose disk.
// Writes are read-modify-write on the enclosing goose block.
type gooseDisk struct {
	mu        *sync.Mutex
	d         goose.Disk
	perBlock  uint64
	numBlocks uint64
}

// NewGooseDisk presents d as a disk of BlockSize blocks.
func NewGooseDisk(d goose.Disk) *gooseDisk {
	per := goose.BlockSize / BlockSize
	return &gooseDisk{
		mu:        new(sync.Mutex),
		d:         d,
		perBlock:  per,
		numBlocks: d.Size() * per,
	}
}

func (d *gooseDisk) split(a uint64) (uint64, uint64) {
	return a / d.perBlock, (a % d.perBlock) * BlockSize
}

func (d *gooseDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(a, d.numBlocks, buf); err != nil {
		return err
	}
	gbn, off := d.split(a)
	d.mu.Lock()
	gb := d.d.Read(gbn)
	d.mu.Unlock()
	copy(buf, gb[off:off+BlockSize])
	return nil
}

func (d *gooseDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *gooseDisk) Write(a uint64, v Block) error {
	if err := checkBlock(a, d.numBlocks, v); err != nil {
		return err
	}
	gbn, off := d.split(a)
	d.mu.Lock()
	defer d.mu.Unlock()
	gb := d.d.Read(gbn)
	copy(gb[off:off+BlockSize], v)
	d.d.Write(gbn, gb)
	return nil
}

func (d *gooseDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *gooseDisk) Barrier() error {
	d.d.Barrier()
	return nil
}

func (d *gooseDisk) Close() error {
	d.d.Close()
	return nil
}
