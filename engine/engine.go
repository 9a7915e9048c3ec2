// Package engine ties the block layer, the allocation table and the directory
// model together into a file system with a current directory and a single
// open file. Every exported method of Engine is safe for concurrent use; calls
// are serialized.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
	"github.com/keks/fatfs/dir"
	"github.com/keks/fatfs/fat"
)

// Options configures an Engine.
type Options struct {
	// Logger receives debug output about allocations and state changes.
	Logger *slog.Logger

	// MaxDirBlocks limits how many blocks a directory may span. Zero means
	// directories grow until the arena is full.
	MaxDirBlocks int
}

// DefaultOptions returns the options used when New is passed nil.
func DefaultOptions() *Options {
	return &Options{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxDirBlocks: 0,
	}
}

// Engine is a file system living in one Region.
type Engine struct {
	l sync.Mutex

	region blkfile.Region
	blks   *blkfile.Blocks
	tbl    *fat.Table
	log    *slog.Logger

	maxDirBlocks int

	cwd    fatfs.BlockID
	open   *handle
	closed bool
}

// New returns an engine for r with the root as current directory. An all-zero
// region is formatted first; any other unformatted region is rejected.
func New(r blkfile.Region, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = DefaultOptions().Logger
	}

	blks, err := blkfile.New(r)
	if err != nil {
		return nil, err
	}

	tbl, err := fat.New(blks)
	if err != nil {
		return nil, err
	}

	ok, err := tbl.Formatted()
	if err != nil {
		return nil, err
	}
	if !ok {
		if !isZero(r.Bytes()) {
			return nil, fatfs.ErrNotFormatted
		}

		log.Info("formatting empty arena", "blocks", blks.Geometry().Blocks)
		if err := format(blks, tbl); err != nil {
			return nil, err
		}
	}

	return &Engine{
		region:       r,
		blks:         blks,
		tbl:          tbl,
		log:          log,
		maxDirBlocks: opts.MaxDirBlocks,
		cwd:          blks.Geometry().Root,
	}, nil
}

// Format lays out an empty file system in r, discarding its contents.
func Format(r blkfile.Region) error {
	blks, err := blkfile.New(r)
	if err != nil {
		return err
	}

	tbl, err := fat.New(blks)
	if err != nil {
		return err
	}

	return format(blks, tbl)
}

func format(blks *blkfile.Blocks, tbl *fat.Table) error {
	if err := tbl.Format(); err != nil {
		return fmt.Errorf("format table: %w", err)
	}

	if err := blks.Zero(blks.Geometry().Root); err != nil {
		return fmt.Errorf("format root: %w", err)
	}

	return nil
}

func isZero(buf []byte) bool {
	const chunk = 4096
	var zero [chunk]byte

	for len(buf) > 0 {
		n := min(len(buf), chunk)
		if !bytes.Equal(buf[:n], zero[:n]) {
			return false
		}
		buf = buf[n:]
	}

	return true
}

// Geometry returns the layout of the arena.
func (e *Engine) Geometry() fatfs.Geometry {
	return e.blks.Geometry()
}

func (e *Engine) check() error {
	if e.closed {
		return fatfs.ErrClosed
	}
	return nil
}

func (e *Engine) cur() *dir.Directory {
	return dir.Open(e.blks, e.tbl, e.cwd)
}

// allocate claims a zeroed block.
func (e *Engine) allocate() (fatfs.BlockID, error) {
	b, err := e.tbl.Allocate()
	if err != nil {
		return 0, err
	}

	if err := e.blks.Zero(b); err != nil {
		return 0, err
	}

	e.log.Debug("allocated block", "block", b)
	return b, nil
}

// extend appends a zeroed block to the chain ending in tail.
func (e *Engine) extend(tail fatfs.BlockID) (fatfs.BlockID, error) {
	b, err := e.tbl.Extend(tail)
	if err != nil {
		return 0, err
	}

	if err := e.blks.Zero(b); err != nil {
		return 0, err
	}

	e.log.Debug("extended chain", "tail", tail, "block", b)
	return b, nil
}

// truncate cuts the chain at head down to keep blocks.
func (e *Engine) truncate(head fatfs.BlockID, keep int) error {
	if err := e.tbl.Truncate(head, keep); err != nil {
		e.log.Warn("could not truncate chain", "head", head, "keep", keep, "err", err)
		return fmt.Errorf("truncate chain at %d: %w", head, err)
	}

	e.log.Debug("truncated chain", "head", head, "keep", keep)
	return nil
}

func (e *Engine) freeChain(head fatfs.BlockID) error {
	if err := e.tbl.FreeChain(head); err != nil {
		e.log.Warn("could not free chain", "head", head, "err", err)
		return fmt.Errorf("free chain at %d: %w", head, err)
	}

	e.log.Debug("freed chain", "head", head)
	return nil
}

// FreeBlocks returns the number of unallocated data blocks.
func (e *Engine) FreeBlocks() (int, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return 0, err
	}

	return e.tbl.FreeCount()
}

// Flush persists the region.
func (e *Engine) Flush() error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	return e.region.Flush()
}

// Shutdown closes the open file and releases the region. The engine cannot be
// used afterwards.
func (e *Engine) Shutdown() error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	e.closeFile()
	e.closed = true

	if err := e.region.Close(); err != nil {
		return fmt.Errorf("release region: %w", err)
	}

	e.log.Debug("shut down")
	return nil
}

// IsInformational reports whether err is a status that does not indicate a
// failure, like ErrAlreadyAtRoot or ErrEmpty.
func IsInformational(err error) bool {
	return errors.Is(err, fatfs.ErrAlreadyAtRoot) || errors.Is(err, fatfs.ErrEmpty)
}
