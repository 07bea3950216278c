package main

import (
	"fmt"
	"math"
	"os"

	goose "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-easyfs/disk"
)

const (
	backendFile  = "file"
	backendBolt  = "bolt"
	backendGoose = "goose"
)

// createDevice opens the image for formatting, sized to totalBlocks.
func createDevice(c *Config) (disk.Disk, error) {
	n := uint64(c.TotalBlocks)
	switch c.Backend {
	case backendFile:
		d, err := disk.NewFileDisk(c.Image, n)
		if err != nil {
			return nil, err
		}
		return d, nil
	case backendBolt:
		d, err := disk.NewBoltDisk(c.Image, n)
		if err != nil {
			return nil, err
		}
		return d, nil
	case backendGoose:
		per := goose.BlockSize / disk.BlockSize
		gd, err := goose.NewFileDisk(c.Image, (n+per-1)/per)
		if err != nil {
			return nil, err
		}
		return disk.NewGooseDisk(gd), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// openDevice opens an existing image; its size comes from the image itself.
func openDevice(c *Config) (disk.Disk, error) {
	switch c.Backend {
	case backendFile:
		d, err := disk.OpenFileDisk(c.Image)
		if err != nil {
			return nil, err
		}
		return d, nil
	case backendBolt:
		if _, err := os.Stat(c.Image); err != nil {
			return nil, err
		}
		// blocks are addressed through the superblock layout
		d, err := disk.NewBoltDisk(c.Image, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		return d, nil
	case backendGoose:
		fi, err := os.Stat(c.Image)
		if err != nil {
			return nil, err
		}
		gd, err := goose.NewFileDisk(c.Image, uint64(fi.Size())/goose.BlockSize)
		if err != nil {
			return nil, err
		}
		return disk.NewGooseDisk(gd), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}
