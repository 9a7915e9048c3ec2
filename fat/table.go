// Package fat implements the block allocation table. The table is a flat array
// with one little-endian int32 per block of the arena, stored in the first
// blocks of the arena itself. An entry is Free, EOF, or the number of the next
// block in the same chain.
package fat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
)

const (
	// Free marks a block that belongs to no chain.
	Free fatfs.BlockID = 0

	// EOF marks the last block of a chain.
	EOF fatfs.BlockID = -1
)

// Table is the allocation table of an arena.
type Table struct {
	geom fatfs.Geometry

	lower fatfs.ReadWriterAt
}

// New returns the allocation table stored in blks. It does not check whether
// the arena is formatted; use Formatted for that.
func New(blks *blkfile.Blocks) (*Table, error) {
	geom := blks.Geometry()

	lower, err := blks.Span(0, geom.TableBlocks)
	if err != nil {
		return nil, err
	}

	return &Table{
		geom:  geom,
		lower: lower,
	}, nil
}

func (tbl *Table) Geometry() fatfs.Geometry {
	return tbl.geom
}

func (tbl *Table) get(b fatfs.BlockID) (fatfs.BlockID, error) {
	var buf [fatfs.EntrySize]byte
	_, err := tbl.lower.ReadAt(buf[:], int64(b)*fatfs.EntrySize)
	if err != nil {
		return 0, fmt.Errorf("read table entry %d: %w", b, err)
	}

	return fatfs.BlockID(int32(binary.LittleEndian.Uint32(buf[:]))), nil
}

func (tbl *Table) set(b, v fatfs.BlockID) error {
	var buf [fatfs.EntrySize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(v)))

	_, err := tbl.lower.WriteAt(buf[:], int64(b)*fatfs.EntrySize)
	if err != nil {
		return fmt.Errorf("write table entry %d: %w", b, err)
	}

	return nil
}

// Next returns the table entry of block b.
func (tbl *Table) Next(b fatfs.BlockID) (fatfs.BlockID, error) {
	if !tbl.geom.Contains(b) {
		return 0, fmt.Errorf("block %d out of range: %w", b, fatfs.ErrInvalidChain)
	}

	return tbl.get(b)
}

// IsFree reports whether block b belongs to no chain.
func (tbl *Table) IsFree(b fatfs.BlockID) (bool, error) {
	next, err := tbl.Next(b)
	return next == Free, err
}

// Format clears the table and reserves the table blocks as one chain and the
// root directory as a chain of its own.
func (tbl *Table) Format() error {
	for b := 0; b < tbl.geom.Blocks; b++ {
		if err := tbl.set(fatfs.BlockID(b), Free); err != nil {
			return err
		}
	}

	for b := 0; b < tbl.geom.TableBlocks; b++ {
		next := fatfs.BlockID(b + 1)
		if b == tbl.geom.TableBlocks-1 {
			next = EOF
		}

		if err := tbl.set(fatfs.BlockID(b), next); err != nil {
			return err
		}
	}

	return tbl.set(tbl.geom.Root, EOF)
}

// Formatted reports whether the reserved chains are in place. The root chain
// may have grown past its first block.
func (tbl *Table) Formatted() (bool, error) {
	for b := 0; b < tbl.geom.TableBlocks; b++ {
		want := fatfs.BlockID(b + 1)
		if b == tbl.geom.TableBlocks-1 {
			want = EOF
		}

		next, err := tbl.get(fatfs.BlockID(b))
		if err != nil || next != want {
			return false, err
		}
	}

	for b, err := range tbl.Walk(tbl.geom.Root) {
		if errors.Is(err, fatfs.ErrInvalidChain) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if b != tbl.geom.Root && b < tbl.geom.FirstData() {
			return false, nil
		}
	}

	return true, nil
}

// Allocate claims the first free data block and marks it as a one-block chain.
func (tbl *Table) Allocate() (fatfs.BlockID, error) {
	for b := tbl.geom.FirstData(); int(b) < tbl.geom.Blocks; b++ {
		next, err := tbl.get(b)
		if err != nil {
			return 0, err
		}

		if next == Free {
			return b, tbl.set(b, EOF)
		}
	}

	return 0, fatfs.ErrExhausted
}

// Extend appends a newly allocated block to the chain whose last block is tail.
// If no block can be allocated, the chain is left unchanged.
func (tbl *Table) Extend(tail fatfs.BlockID) (fatfs.BlockID, error) {
	next, err := tbl.Next(tail)
	if err != nil {
		return 0, err
	}
	if next != EOF {
		return 0, fmt.Errorf("extend at %d, which is not a chain end: %w", tail, fatfs.ErrInvalidChain)
	}

	nb, err := tbl.Allocate()
	if err != nil {
		return 0, err
	}

	if err := tbl.set(tail, nb); err != nil {
		if ferr := tbl.set(nb, Free); ferr != nil {
			return 0, errors.Join(err, fmt.Errorf("release block %d: %w", nb, ferr))
		}
		return 0, err
	}

	return nb, nil
}

// Walk yields the blocks of the chain starting at head, in chain order. It
// yields an ErrInvalidChain error and stops if the chain runs through a free
// block, leaves the arena or loops.
func (tbl *Table) Walk(head fatfs.BlockID) iter.Seq2[fatfs.BlockID, error] {
	return func(yield func(fatfs.BlockID, error) bool) {
		b := head
		for hops := 0; ; hops++ {
			if hops >= tbl.geom.Blocks {
				yield(b, fmt.Errorf("chain at %d loops: %w", head, fatfs.ErrInvalidChain))
				return
			}

			next, err := tbl.Next(b)
			if err != nil {
				yield(b, err)
				return
			}
			if next == Free {
				yield(b, fmt.Errorf("block %d in chain at %d is free: %w", b, head, fatfs.ErrInvalidChain))
				return
			}

			if !yield(b, nil) {
				return
			}

			if next == EOF {
				return
			}
			b = next
		}
	}
}

// Chain returns all blocks of the chain starting at head.
func (tbl *Table) Chain(head fatfs.BlockID) ([]fatfs.BlockID, error) {
	var chain []fatfs.BlockID
	for b, err := range tbl.Walk(head) {
		if err != nil {
			return nil, err
		}
		chain = append(chain, b)
	}

	return chain, nil
}

// Tail returns the last block of the chain starting at head.
func (tbl *Table) Tail(head fatfs.BlockID) (fatfs.BlockID, error) {
	tail := head
	for b, err := range tbl.Walk(head) {
		if err != nil {
			return 0, err
		}
		tail = b
	}

	return tail, nil
}

// FreeChain releases every block of the chain starting at head. The chain is
// validated first, so an invalid chain is reported and left untouched.
func (tbl *Table) FreeChain(head fatfs.BlockID) error {
	if head < tbl.geom.FirstData() {
		return fmt.Errorf("free reserved block %d: %w", head, fatfs.ErrInvalidChain)
	}

	chain, err := tbl.Chain(head)
	if err != nil {
		return err
	}

	for _, b := range chain {
		if err := tbl.set(b, Free); err != nil {
			return err
		}
	}

	return nil
}

// Truncate cuts the chain starting at head down to its first keep blocks and
// frees the rest. A chain that is already short enough is left as it is.
func (tbl *Table) Truncate(head fatfs.BlockID, keep int) error {
	if keep < 1 {
		return fmt.Errorf("truncate chain at %d to %d blocks: %w", head, keep, fatfs.ErrInvalidChain)
	}

	chain, err := tbl.Chain(head)
	if err != nil {
		return err
	}
	if len(chain) <= keep {
		return nil
	}

	if err := tbl.set(chain[keep-1], EOF); err != nil {
		return err
	}

	for _, b := range chain[keep:] {
		if err := tbl.set(b, Free); err != nil {
			return err
		}
	}

	return nil
}

// FreeCount returns the number of free data blocks.
func (tbl *Table) FreeCount() (int, error) {
	var n int
	for b := tbl.geom.FirstData(); int(b) < tbl.geom.Blocks; b++ {
		next, err := tbl.get(b)
		if err != nil {
			return 0, err
		}
		if next == Free {
			n++
		}
	}

	return n, nil
}
