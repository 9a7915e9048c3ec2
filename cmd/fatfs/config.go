package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
	"github.com/keks/fatfs/engine"
)

// ImageEnv names the environment variable that overrides the default image path.
const ImageEnv = "FATFS_IMAGE"

// Config holds the settings shared by every command.
type Config struct {
	Image        string // path of the image file
	Size         int    // size in bytes of a newly created image
	LogLevel     string // debug, info, warn or error
	MaxDirBlocks int    // 0 lets directories grow without limit
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() *Config {
	image := os.Getenv(ImageEnv)
	if image == "" {
		image = "fs.img"
	}

	return &Config{
		Image:        image,
		Size:         fatfs.FSSize,
		LogLevel:     "warn",
		MaxDirBlocks: 0,
	}
}

// AddFlags binds the fields of cfg to flags in fs. The current values become
// the defaults.
func (cfg *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&cfg.Image, "image", "i", cfg.Image, "path of the image file (env "+ImageEnv+")")
	fs.IntVar(&cfg.Size, "size", cfg.Size, "size in bytes of a newly created image")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.IntVar(&cfg.MaxDirBlocks, "max-dir-blocks", cfg.MaxDirBlocks, "maximum number of blocks per directory, 0 for no limit")
}

// Logger returns a text logger writing to w at the configured level.
func (cfg *Config) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// imageSize returns the size to map the image with: the size of the file if
// it exists, the configured size otherwise.
func (cfg *Config) imageSize() (int, error) {
	size, err := blkfile.ImageSize(cfg.Image)
	if err != nil {
		return 0, fmt.Errorf("image %s: %w", cfg.Image, err)
	}
	if size == 0 {
		size = cfg.Size
	}

	if _, err := fatfs.GeometryFor(size); err != nil {
		return 0, fmt.Errorf("image %s of %d bytes: %w", cfg.Image, size, err)
	}

	return size, nil
}

// Open maps the image and starts an engine on it. A missing image is created
// and formatted.
func (cfg *Config) Open(log *slog.Logger) (*engine.Engine, error) {
	size, err := cfg.imageSize()
	if err != nil {
		return nil, err
	}

	mf, err := blkfile.MapFile(cfg.Image, size)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(mf, &engine.Options{
		Logger:       log,
		MaxDirBlocks: cfg.MaxDirBlocks,
	})
	if err != nil {
		mf.Close()
		return nil, fmt.Errorf("image %s: %w", cfg.Image, err)
	}

	log.Debug("opened image", "path", cfg.Image, "bytes", size)
	return e, nil
}
