package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mit-pdos/go-easyfs/efs"
	"github.com/mit-pdos/go-easyfs/util"
)

const copyChunk = 64 * 1024

// Lookup resolves a slash-separated path from the root directory.
func Lookup(fs *efs.FileSystem, path string) (efs.Inode, error) {
	ip := fs.RootInode()
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		next, err := ip.Find(name)
		if err != nil {
			return efs.Inode{}, err
		}
		ip = next
	}
	return ip, nil
}

// Pack copies the tree under src into the root directory of fs.
func Pack(fs *efs.FileSystem, src string) error {
	dirs := map[string]efs.Inode{".": fs.RootInode()}
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		parent := dirs[filepath.Dir(rel)]
		name := filepath.Base(rel)
		switch {
		case fi.IsDir():
			ip, err := parent.Mkdir(name)
			if err != nil {
				return err
			}
			dirs[rel] = ip
		case fi.Mode().IsRegular():
			ip, err := parent.Create(name)
			if err != nil {
				return err
			}
			if err := copyIn(ip, path); err != nil {
				return err
			}
			util.DPrintf(1, "pack: %s (%d bytes)\n", rel, fi.Size())
		}
		return nil
	})
}

func copyIn(ip efs.Inode, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, copyChunk)
	var off uint64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := ip.WriteAt(off, buf[:n]); werr != nil {
				return werr
			}
			off += uint64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Cat writes the content of ip to w.
func Cat(ip efs.Inode, w io.Writer) error {
	buf := make([]byte, copyChunk)
	var off uint64
	for {
		n, err := ip.ReadAt(off, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		off += uint64(n)
	}
}
