// Command efs formats, fills and inspects efs images.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-easyfs/bcache"
	"github.com/mit-pdos/go-easyfs/efs"
	"github.com/mit-pdos/go-easyfs/inode"
	"github.com/mit-pdos/go-easyfs/util"
)

var geometryFlags = []cli.Flag{
	&cli.Uint64Flag{
		Name:  "blocks",
		Usage: "total size of the file system in 512-byte blocks",
	},
	&cli.Uint64Flag{
		Name:  "inode-bitmap-blocks",
		Usage: "number of inode bitmap blocks (4096 inodes each)",
	},
}

func main() {
	var cfg *Config

	app := cli.App{
		Name:  "efs",
		Usage: "build and inspect efs images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path of the image (EFS_IMAGE)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "image format: file, bolt or goose (EFS_BACKEND)",
			},
			&cli.Uint64Flag{
				Name:  "debug",
				Usage: "debug log level (EFS_DEBUG)",
			},
		},
		Before: func(ctx *cli.Context) error {
			c, err := LoadConfig()
			if err != nil {
				return err
			}
			if ctx.IsSet("image") {
				c.Image = ctx.String("image")
			}
			if ctx.IsSet("backend") {
				c.Backend = ctx.String("backend")
			}
			if ctx.IsSet("debug") {
				c.Debug = ctx.Uint64("debug")
			}
			if err := c.Validate(); err != nil {
				return err
			}
			util.Debug = c.Debug
			cfg = c
			return nil
		},
		Commands: []*cli.Command{{
			Name:        "mkfs",
			Aliases:     []string{"format"},
			Usage:       "create an empty file system on the image",
			Flags:       geometryFlags,
			Action: func(ctx *cli.Context) error {
				applyGeometry(cfg, ctx)
				return withNewFS(cfg, func(fs *efs.FileSystem) error {
					return nil
				})
			},
		}, {
			Name:  "pack",
			Usage: "create a file system holding a copy of a host directory",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     "source",
					Aliases:  []string{"s"},
					Usage:    "host directory to copy",
					Required: true,
				},
			}, geometryFlags...),
			Action: func(ctx *cli.Context) error {
				applyGeometry(cfg, ctx)
				return withNewFS(cfg, func(fs *efs.FileSystem) error {
					return Pack(fs, ctx.String("source"))
				})
			},
		}, {
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[PATH]",
			Action: withFS(&cfg, func(fs *efs.FileSystem, ctx *cli.Context) error {
				ip, err := Lookup(fs, ctx.Args().First())
				if err != nil {
					return err
				}
				names, err := ip.Ls()
				if err != nil {
					return err
				}
				for _, name := range names {
					child, err := ip.Find(name)
					if err != nil {
						return err
					}
					tp, err := child.Type()
					if err != nil {
						return err
					}
					size, err := child.Size()
					if err != nil {
						return err
					}
					suffix := ""
					if tp == inode.Directory {
						suffix = "/"
					}
					fmt.Printf("%6d %10d %s%s\n", child.Inum(), size, name, suffix)
				}
				return nil
			}),
		}, {
			Name:      "cat",
			Usage:     "copy a file to stdout",
			ArgsUsage: "PATH",
			Action: withFS(&cfg, func(fs *efs.FileSystem, ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return fmt.Errorf("usage: efs cat PATH")
				}
				ip, err := Lookup(fs, ctx.Args().First())
				if err != nil {
					return err
				}
				return Cat(ip, os.Stdout)
			}),
		}, {
			Name:  "stat",
			Usage: "print the superblock layout and free counts as YAML",
			Action: withFS(&cfg, func(fs *efs.FileSystem, ctx *cli.Context) error {
				st, err := fs.Stat()
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(struct {
					efs.Stat `yaml:",inline"`
					Cache    bcache.Stats `yaml:"cache"`
				}{st, fs.Cache().Stats()})
				if err != nil {
					return fmt.Errorf("marshaling stat to YAML: %w", err)
				}
				_, err = os.Stdout.Write(data)
				return err
			}),
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func applyGeometry(c *Config, ctx *cli.Context) {
	if ctx.IsSet("blocks") {
		c.TotalBlocks = uint32(ctx.Uint64("blocks"))
	}
	if ctx.IsSet("inode-bitmap-blocks") {
		c.InodeBitmapBlocks = uint32(ctx.Uint64("inode-bitmap-blocks"))
	}
}

// withNewFS formats the configured image, runs f and syncs the result.
func withNewFS(c *Config, f func(fs *efs.FileSystem) error) error {
	d, err := createDevice(c)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer d.Close()
	fs, err := efs.Create(bcache.MkCache(c.CacheBlocks), d, c.TotalBlocks, c.InodeBitmapBlocks)
	if err != nil {
		return fmt.Errorf("creating file system: %w", err)
	}
	if err := f(fs); err != nil {
		return err
	}
	return fs.Close()
}

// withFS mounts the configured image around an action. cfg is read when the
// action runs, after Before has loaded it.
func withFS(cfg **Config, f func(*efs.FileSystem, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c := *cfg
		d, err := openDevice(c)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		defer d.Close()
		fs, err := efs.Open(bcache.MkCache(c.CacheBlocks), d)
		if err != nil {
			return fmt.Errorf("mounting %s: %w", c.Image, err)
		}
		if err := f(fs, ctx); err != nil {
			return err
		}
		return fs.Close()
	}
}
