package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-easyfs/bcache"
	"github.com/mit-pdos/go-easyfs/disk"
	"github.com/mit-pdos/go-easyfs/efs"
	"github.com/mit-pdos/go-easyfs/inode"
)

func mkTree(t *testing.T) string {
	dir, err := ioutil.TempDir("", "efs-pack")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin", "sub"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "hello"), []byte("hello world\n"), 0644))
	big := bytes.Repeat([]byte("0123456789abcdef"), 10000)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "bin", "big"), big, 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "bin", "sub", "empty"), nil, 0644))
	return dir
}

func TestPackAndCat(t *testing.T) {
	src := mkTree(t)
	defer os.RemoveAll(src)

	fs, err := efs.Create(bcache.MkCache(16), disk.NewMemDisk(4096), 4096, 1)
	require.NoError(t, err)
	require.NoError(t, Pack(fs, src))

	names, err := fs.RootInode().Ls()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bin", "hello"}, names)

	bin, err := Lookup(fs, "/bin")
	require.NoError(t, err)
	tp, err := bin.Type()
	require.NoError(t, err)
	assert.Equal(t, inode.Directory, tp)

	var out bytes.Buffer
	ip, err := Lookup(fs, "hello")
	require.NoError(t, err)
	require.NoError(t, Cat(ip, &out))
	assert.Equal(t, "hello world\n", out.String())

	out.Reset()
	ip, err = Lookup(fs, "/bin//big")
	require.NoError(t, err)
	require.NoError(t, Cat(ip, &out))
	want, err := ioutil.ReadFile(filepath.Join(src, "bin", "big"))
	require.NoError(t, err)
	assert.Equal(t, want, out.Bytes())

	ip, err = Lookup(fs, "bin/sub/empty")
	require.NoError(t, err)
	size, err := ip.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestLookupMissing(t *testing.T) {
	fs, err := efs.Create(bcache.MkCache(16), disk.NewMemDisk(4096), 4096, 1)
	require.NoError(t, err)

	root, err := Lookup(fs, "/")
	require.NoError(t, err)
	assert.Equal(t, fs.RootInode().Inum(), root.Inum())

	_, err = Lookup(fs, "/nope/x")
	assert.Equal(t, efs.ErrNotFound, errors.Cause(err))
}

func TestDeviceRoundTrip(t *testing.T) {
	src := mkTree(t)
	defer os.RemoveAll(src)

	for _, backend := range []string{backendFile, backendBolt, backendGoose} {
		t.Run(backend, func(t *testing.T) {
			dir, err := ioutil.TempDir("", "efs-image")
			require.NoError(t, err)
			defer os.RemoveAll(dir)

			c := DefaultConfig()
			c.Image = filepath.Join(dir, "fs.img")
			c.Backend = backend
			c.TotalBlocks = 4096
			require.NoError(t, withNewFS(&c, func(fs *efs.FileSystem) error {
				return Pack(fs, src)
			}))

			cfg := &c
			var out bytes.Buffer
			action := withFS(&cfg, func(fs *efs.FileSystem, _ *cli.Context) error {
				ip, err := Lookup(fs, "hello")
				if err != nil {
					return err
				}
				return Cat(ip, &out)
			})
			require.NoError(t, action(nil))
			assert.Equal(t, "hello world\n", out.String())
		})
	}
}
