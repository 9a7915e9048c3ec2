// Package dir implements directories: arrays of fixed-size entries stored in a
// chain of blocks. Every block of a directory holds SlotsPerBlock entries. The
// first block of a subdirectory reserves slot 0 for a reference to itself and
// slot 1 for a reference to its parent; the root directory has no such slots.
package dir

import (
	"fmt"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
	"github.com/keks/fatfs/fat"
)

// Loc is the location of a slot.
type Loc struct {
	Block fatfs.BlockID
	Slot  int
}

// Directory is a view of the directory whose chain starts at Head.
type Directory struct {
	blks *blkfile.Blocks
	tbl  *fat.Table

	head fatfs.BlockID
}

// Open returns the directory starting at head. It does not validate head.
func Open(blks *blkfile.Blocks, tbl *fat.Table, head fatfs.BlockID) *Directory {
	return &Directory{
		blks: blks,
		tbl:  tbl,
		head: head,
	}
}

func (d *Directory) Head() fatfs.BlockID {
	return d.head
}

// IsRoot reports whether d is the root directory.
func (d *Directory) IsRoot() bool {
	return d.head == d.blks.Geometry().Root
}

// firstSlot returns the first slot of block b that holds a regular entry.
func (d *Directory) firstSlot(b fatfs.BlockID) int {
	if b == d.head && !d.IsRoot() {
		return fatfs.ReservedSlots
	}
	return 0
}

// Get reads the entry at loc.
func (d *Directory) Get(loc Loc) (Entry, error) {
	blk, err := d.blks.Get(loc.Block)
	if err != nil {
		return Entry{}, err
	}

	return readEntry(blk, loc.Slot)
}

// Put writes e at loc.
func (d *Directory) Put(loc Loc, e Entry) error {
	blk, err := d.blks.Get(loc.Block)
	if err != nil {
		return err
	}

	return writeEntry(blk, loc.Slot, e)
}

// Clear zeroes the slot at loc, making it free for reuse.
func (d *Directory) Clear(loc Loc) error {
	return d.Put(loc, Entry{})
}

// Each calls fn for every regular slot, used or not, in chain order and then
// slot order, until fn returns false.
func (d *Directory) Each(fn func(Loc, Entry) bool) error {
	for b, err := range d.tbl.Walk(d.head) {
		if err != nil {
			return err
		}

		blk, err := d.blks.Get(b)
		if err != nil {
			return err
		}

		for slot := d.firstSlot(b); slot < fatfs.SlotsPerBlock; slot++ {
			e, err := readEntry(blk, slot)
			if err != nil {
				return err
			}

			if !fn(Loc{b, slot}, e) {
				return nil
			}
		}
	}

	return nil
}

// Find returns the used entry called name.
func (d *Directory) Find(name string) (Loc, Entry, error) {
	var (
		loc   Loc
		found Entry
	)

	err := d.Each(func(l Loc, e Entry) bool {
		if e.Used && e.Name == name {
			loc, found = l, e
			return false
		}
		return true
	})
	if err != nil {
		return Loc{}, Entry{}, err
	}

	if !found.Used {
		return Loc{}, Entry{}, fmt.Errorf("%q: %w", name, fatfs.ErrNotFound)
	}

	return loc, found, nil
}

// FindStart returns the used directory entry whose chain starts at head.
func (d *Directory) FindStart(head fatfs.BlockID) (Loc, Entry, error) {
	var (
		loc   Loc
		found Entry
	)

	err := d.Each(func(l Loc, e Entry) bool {
		if e.Used && e.Dir && e.Start == head {
			loc, found = l, e
			return false
		}
		return true
	})
	if err != nil {
		return Loc{}, Entry{}, err
	}

	if !found.Used {
		return Loc{}, Entry{}, fmt.Errorf("directory at block %d: %w", head, fatfs.ErrNotFound)
	}

	return loc, found, nil
}

// List returns the used entries.
func (d *Directory) List() ([]Entry, error) {
	var entries []Entry

	err := d.Each(func(_ Loc, e Entry) bool {
		if e.Used {
			entries = append(entries, e)
		}
		return true
	})

	return entries, err
}

// IsEmpty reports whether d has no used entries besides "." and "..".
func (d *Directory) IsEmpty() (bool, error) {
	empty := true

	err := d.Each(func(_ Loc, e Entry) bool {
		if e.Used {
			empty = false
		}
		return empty
	})

	return empty, err
}

// Blocks returns the number of blocks in the chain of d.
func (d *Directory) Blocks() (int, error) {
	chain, err := d.tbl.Chain(d.head)
	return len(chain), err
}

// Insert stores e in the first free slot. If every slot is taken, the chain is
// extended by one zeroed block, unless it already has maxBlocks blocks.
// A maxBlocks of zero means there is no limit.
func (d *Directory) Insert(e Entry, maxBlocks int) (Loc, error) {
	var (
		loc   Loc
		found bool
	)

	err := d.Each(func(l Loc, slot Entry) bool {
		if !slot.Used {
			loc, found = l, true
			return false
		}
		return true
	})
	if err != nil {
		return Loc{}, err
	}

	if !found {
		chain, err := d.tbl.Chain(d.head)
		if err != nil {
			return Loc{}, err
		}

		if maxBlocks > 0 && len(chain) >= maxBlocks {
			return Loc{}, fmt.Errorf("directory has %d blocks: %w", len(chain), fatfs.ErrNoFreeSlot)
		}

		nb, err := d.tbl.Extend(chain[len(chain)-1])
		if err != nil {
			return Loc{}, err
		}

		if err := d.blks.Zero(nb); err != nil {
			return Loc{}, err
		}

		loc = Loc{nb, 0}
	}

	return loc, d.Put(loc, e)
}

// Self returns the self reference of a subdirectory.
func (d *Directory) Self() (Entry, error) {
	return d.Get(Loc{d.head, 0})
}

// Parent returns the parent reference of a subdirectory.
func (d *Directory) Parent() (Entry, error) {
	return d.Get(Loc{d.head, 1})
}

// InitSubdir clears block head and writes the reserved entries of a new
// subdirectory whose parent starts at parent.
func InitSubdir(blks *blkfile.Blocks, head, parent fatfs.BlockID) error {
	if err := blks.Zero(head); err != nil {
		return err
	}

	blk, err := blks.Get(head)
	if err != nil {
		return err
	}

	self := Entry{Name: fatfs.SelfName, Start: head, Used: true, Dir: true}
	if err := writeEntry(blk, 0, self); err != nil {
		return err
	}

	up := Entry{Name: fatfs.ParentName, Start: parent, Used: true, Dir: true}
	return writeEntry(blk, 1, up)
}
