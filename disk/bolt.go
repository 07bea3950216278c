package disk

import (
	"github.com/tchajed/marshal"
	bolt "go.etcd.io/bbolt"

	"github.com/mit-pdos/go-easyfs/util"
)

var _ Disk = (*boltDisk)(nil)

var blocksBucket = []byte("blocks")

// boltDisk stores each written block as a value in a bbolt bucket, keyed by
// its encoded block number. Blocks never written read back as zeroes, so a
// fresh database is a zeroed disk.
type boltDisk struct {
	db        *bolt.DB
	numBlocks uint64
}

// NewBoltDisk opens (creating if needed) a bbolt database at path as a disk
// of numBlocks blocks.
func NewBoltDisk(path string, numBlocks uint64) (*boltDisk, error) {
	db, err := bolt.Open(path, 0666, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltDisk{db: db, numBlocks: numBlocks}, nil
}

func blockKey(a uint64) []byte {
	enc := marshal.NewEnc(8)
	enc.PutInt(a)
	return enc.Finish()
}

func (d *boltDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(a, d.numBlocks, buf); err != nil {
		return err
	}
	return d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(blockKey(a))
		if v == nil {
			for i := range buf {
				buf[i] = 0
			}
			return nil
		}
		if uint64(len(v)) != BlockSize {
			return ErrShortIO
		}
		// v is only valid inside the transaction
		copy(buf, v)
		return nil
	})
}

func (d *boltDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *boltDisk) Write(a uint64, v Block) error {
	if err := checkBlock(a, d.numBlocks, v); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		// bbolt keeps a reference to val until the transaction commits
		return tx.Bucket(blocksBucket).Put(blockKey(a), util.CloneByteSlice(v))
	})
}

func (d *boltDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

// Barrier is a no-op: every Write commits its own bbolt transaction, which
// is fsynced before Update returns.
func (d *boltDisk) Barrier() error { return nil }

func (d *boltDisk) Close() error {
	return d.db.Close()
}
