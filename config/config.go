/*
	Package config loads jpgstack settings from a TOML file.  Command line flags
	override whatever the file sets.

	Example:

		[pack]
		quality = 80
		codec = "jpg"
		sidecar_compression = "snappy"

		[workers]
		count = 0    # 0 uses every CPU

		[storage]
		bucket = "gs://my-tomograms"

		[logging]
		logfile = "logs/jpgstack.log"
		max_log_size = 500  # MB
		max_log_age = 30    # days

		[server]
		http_address = "localhost:8000"
		cors_origins = ["*"]
		secret_key = "change me"        # optional JWT auth
		auth_file = "authorized.json"   # optional JSON list of users

		[cache]
		size_mb = 256
*/
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/jpgstack/convert"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/tomo"
)

const (
	DefaultHTTPAddress = "localhost:8000"
	DefaultCacheSizeMB = 256
)

type PackConfig struct {
	Quality            int
	Codec              string
	SidecarCompression string `toml:"sidecar_compression"`
}

type WorkersConfig struct {
	Count int
}

type StorageConfig struct {
	Bucket string // empty for the local filesystem
}

type ServerConfig struct {
	HTTPAddress string   `toml:"http_address"`
	CORSOrigins []string `toml:"cors_origins"`
	SecretKey   string   `toml:"secret_key"` // enables JWT auth when set
	AuthFile    string   `toml:"auth_file"`
}

type CacheConfig struct {
	SizeMB int `toml:"size_mb"`
}

// Config holds every configurable setting.
type Config struct {
	Pack    PackConfig
	Workers WorkersConfig
	Storage StorageConfig
	Logging tomo.LogConfig
	Server  ServerConfig
	Cache   CacheConfig
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Pack: PackConfig{
			Quality:            slicecodec.DefaultQuality,
			Codec:              "jpg",
			SidecarCompression: "snappy",
		},
		Server: ServerConfig{
			HTTPAddress: DefaultHTTPAddress,
		},
		Cache: CacheConfig{
			SizeMB: DefaultCacheSizeMB,
		},
	}
}

// Load reads a TOML file over the defaults.  An empty filename returns the defaults.
func Load(filename string) (*Config, error) {
	c := Default()
	if filename == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(filename, c)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	for _, key := range md.Undecoded() {
		tomo.Warningf("Unknown setting %q in %s\n", key.String(), filename)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("bad configuration in %s: %v", filename, err)
	}
	return c, nil
}

func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	// [logging].logfile
	c.Logging.Logfile, err = tomo.ConvertToAbsolute(c.Logging.Logfile, configPath)
	if err != nil {
		return fmt.Errorf("error converting logfile setting to absolute path")
	}
	// [server].auth_file
	c.Server.AuthFile, err = tomo.ConvertToAbsolute(c.Server.AuthFile, configPath)
	if err != nil {
		return fmt.Errorf("error converting auth_file setting to absolute path")
	}
	return nil
}

// Validate checks settings that have a fixed range.
func (c *Config) Validate() error {
	if err := slicecodec.ValidateQuality(c.Pack.Quality); err != nil {
		return err
	}
	if _, err := slicecodec.Lookup(c.Pack.Codec); err != nil {
		return err
	}
	if _, err := tomo.ParseCompression(c.Pack.SidecarCompression); err != nil {
		return err
	}
	if c.Workers.Count < 0 {
		return fmt.Errorf("workers count must not be negative, got %d", c.Workers.Count)
	}
	if c.Cache.SizeMB < 0 {
		return fmt.Errorf("cache size must not be negative, got %d", c.Cache.SizeMB)
	}
	return nil
}

// ConvertOptions returns the conversion options for these settings with the worker
// count resolved once.
func (c *Config) ConvertOptions() (convert.Options, error) {
	codec, err := slicecodec.Lookup(c.Pack.Codec)
	if err != nil {
		return convert.Options{}, err
	}
	compress, err := tomo.ParseCompression(c.Pack.SidecarCompression)
	if err != nil {
		return convert.Options{}, err
	}
	return convert.Options{
		Quality:            c.Pack.Quality,
		Workers:            tomo.NumCPU(c.Workers.Count),
		Codec:              codec,
		SidecarCompression: compress,
	}, nil
}

// CacheBytes returns the slice cache size in bytes.
func (c *Config) CacheBytes() int {
	return c.Cache.SizeMB * tomo.Mega
}
