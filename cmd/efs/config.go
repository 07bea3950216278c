package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-easyfs/common"
)

const envVarPrefix = "EFS"

type Config struct {
	Image             string `envconfig:"EFS_IMAGE"               yaml:"image"`
	Backend           string `envconfig:"EFS_BACKEND"             yaml:"backend"`
	TotalBlocks       uint32 `envconfig:"EFS_TOTAL_BLOCKS"        yaml:"totalBlocks"`
	InodeBitmapBlocks uint32 `envconfig:"EFS_INODE_BITMAP_BLOCKS" yaml:"inodeBitmapBlocks"`
	CacheBlocks       uint64 `envconfig:"EFS_CACHE_BLOCKS"        yaml:"cacheBlocks"`
	Debug             uint64 `envconfig:"EFS_DEBUG"               yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		Image:             "fs.img",
		Backend:           backendFile,
		TotalBlocks:       16 * 2048, // 16 MiB
		InodeBitmapBlocks: 1,
		CacheBlocks:       common.NBCACHE,
	}
}

// LoadConfig starts from the defaults, applies the YAML file named by
// EFS_CONFIG_FILE if it exists, then applies EFS_* environment variables.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		data, err := ioutil.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case backendFile, backendBolt, backendGoose:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Image == "" {
		return fmt.Errorf("missing required config: image (EFS_IMAGE)")
	}
	if c.CacheBlocks == 0 {
		return fmt.Errorf("cacheBlocks must be positive")
	}
	return nil
}
