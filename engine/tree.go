package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/dir"
)

// Listing describes one entry of a directory.
type Listing struct {
	Name   string
	Dir    bool
	Size   int
	Blocks int
}

// CreateFile adds an empty file to the current directory. No block is claimed
// until the file is first written.
func (e *Engine) CreateFile(name string) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	return e.create(name, false)
}

// CreateDir adds a subdirectory to the current directory.
func (e *Engine) CreateDir(name string) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	return e.create(name, true)
}

func (e *Engine) create(name string, isDir bool) error {
	if err := dir.CheckName(name); err != nil {
		return err
	}

	cur := e.cur()
	_, _, err := cur.Find(name)
	if err == nil {
		return fmt.Errorf("%q: %w", name, fatfs.ErrNameExists)
	}
	if !errors.Is(err, fatfs.ErrNotFound) {
		return err
	}

	ent := dir.Entry{Name: name, Start: fatfs.NoBlock, Used: true, Dir: isDir}

	if isDir {
		ent.Start, err = e.allocate()
		if err != nil {
			return fmt.Errorf("directory %q: %w", name, err)
		}

		if err := dir.InitSubdir(e.blks, ent.Start, e.cwd); err != nil {
			if ferr := e.freeChain(ent.Start); ferr != nil {
				return errors.Join(err, ferr)
			}
			return err
		}
	}

	loc, err := cur.Insert(ent, e.maxDirBlocks)
	if err != nil {
		if isDir {
			if ferr := e.freeChain(ent.Start); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
		return fmt.Errorf("%q: %w", name, err)
	}

	e.log.Debug("created entry", "name", name, "dir", isDir, "block", loc.Block, "slot", loc.Slot, "start", ent.Start)
	return nil
}

// EraseFile removes a file from the current directory and frees its blocks.
// If the file is open, it is closed.
func (e *Engine) EraseFile(name string) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	cur := e.cur()
	loc, ent, err := cur.Find(name)
	if err != nil {
		return err
	}
	if ent.Dir {
		return fmt.Errorf("%q is a directory: %w", name, fatfs.ErrWrongKind)
	}

	if ent.Start != fatfs.NoBlock {
		if err := e.freeChain(ent.Start); err != nil {
			return fmt.Errorf("%q: %w", name, err)
		}
	}

	if err := cur.Clear(loc); err != nil {
		return err
	}

	if e.open != nil && e.open.loc == loc {
		e.closeFile()
	}

	e.log.Debug("erased file", "name", name)
	return nil
}

// EraseDir removes an empty subdirectory from the current directory.
func (e *Engine) EraseDir(name string) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	switch name {
	case fatfs.RootName, fatfs.SelfName, fatfs.ParentName:
		return fmt.Errorf("cannot erase %q: %w", name, fatfs.ErrInvalidName)
	}

	cur := e.cur()
	loc, ent, err := cur.Find(name)
	if err != nil {
		return err
	}
	if !ent.Dir {
		return fmt.Errorf("%q is a file: %w", name, fatfs.ErrWrongKind)
	}

	empty, err := dir.Open(e.blks, e.tbl, ent.Start).IsEmpty()
	if err != nil {
		return fmt.Errorf("%q: %w", name, err)
	}
	if !empty {
		return fmt.Errorf("%q: %w", name, fatfs.ErrNotEmpty)
	}

	if err := e.freeChain(ent.Start); err != nil {
		return fmt.Errorf("%q: %w", name, err)
	}

	if err := cur.Clear(loc); err != nil {
		return err
	}

	e.log.Debug("erased directory", "name", name)
	return nil
}

// ListDir returns the entries of the current directory in chain and slot
// order. An empty directory yields ErrEmpty.
func (e *Engine) ListDir() ([]Listing, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return nil, err
	}

	entries, err := e.cur().List()
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return []Listing{}, fatfs.ErrEmpty
	}

	ls := make([]Listing, 0, len(entries))
	for _, ent := range entries {
		l, err := e.listing(ent)
		if err != nil {
			return nil, err
		}
		ls = append(ls, l)
	}

	return ls, nil
}

// Stat describes the entry called name in the current directory.
func (e *Engine) Stat(name string) (Listing, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return Listing{}, err
	}

	_, ent, err := e.cur().Find(name)
	if err != nil {
		return Listing{}, err
	}

	return e.listing(ent)
}

func (e *Engine) listing(ent dir.Entry) (Listing, error) {
	l := Listing{Name: ent.Name, Dir: ent.Dir, Size: ent.Size}

	if ent.Start != fatfs.NoBlock {
		chain, err := e.tbl.Chain(ent.Start)
		if err != nil {
			return Listing{}, fmt.Errorf("%q: %w", ent.Name, err)
		}
		l.Blocks = len(chain)
	}

	return l, nil
}

// ChangeDir makes another directory current. "/" is the root, ".." is the
// parent and "." is the current directory; any other name must be a
// subdirectory of the current directory. Ascending from the root yields
// ErrAlreadyAtRoot and changes nothing.
func (e *Engine) ChangeDir(name string) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	root := e.Geometry().Root
	cur := e.cur()

	var target fatfs.BlockID
	switch name {
	case fatfs.RootName:
		target = root

	case fatfs.SelfName:
		return nil

	case fatfs.ParentName:
		if cur.IsRoot() {
			return fatfs.ErrAlreadyAtRoot
		}

		up, err := cur.Parent()
		if err != nil {
			return err
		}
		if !up.Used || !up.Dir || up.Name != fatfs.ParentName {
			return fmt.Errorf("parent of block %d: %w", e.cwd, fatfs.ErrInvalidTarget)
		}
		target = up.Start

	default:
		_, ent, err := cur.Find(name)
		if err != nil {
			return err
		}
		if !ent.Dir {
			return fmt.Errorf("%q is a file: %w", name, fatfs.ErrNotFound)
		}
		target = ent.Start
	}

	if err := e.validDir(target); err != nil {
		return fmt.Errorf("%q: %w", name, err)
	}

	e.log.Debug("changed directory", "from", e.cwd, "to", target)
	e.cwd = target
	return nil
}

// validDir checks that the directory chain at head begins with a matching
// self reference, or is the root.
func (e *Engine) validDir(head fatfs.BlockID) error {
	if head == e.Geometry().Root {
		return nil
	}
	if head < e.Geometry().FirstData() || !e.Geometry().Contains(head) {
		return fmt.Errorf("block %d: %w", head, fatfs.ErrInvalidTarget)
	}

	self, err := dir.Open(e.blks, e.tbl, head).Self()
	if err != nil {
		return err
	}
	if !self.Used || !self.Dir || self.Start != head {
		return fmt.Errorf("block %d has no self reference: %w", head, fatfs.ErrInvalidTarget)
	}

	return nil
}

// Path returns the absolute path of the current directory.
func (e *Engine) Path() (string, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return "", err
	}

	var names []string
	at := e.cwd
	for hops := 0; at != e.Geometry().Root; hops++ {
		if hops >= e.Geometry().Blocks {
			return "", fmt.Errorf("directory at %d: %w", e.cwd, fatfs.ErrInvalidChain)
		}

		up, err := dir.Open(e.blks, e.tbl, at).Parent()
		if err != nil {
			return "", err
		}
		if err := e.validDir(up.Start); err != nil {
			return "", err
		}

		_, ent, err := dir.Open(e.blks, e.tbl, up.Start).FindStart(at)
		if err != nil {
			return "", err
		}

		names = append(names, ent.Name)
		at = up.Start
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}

	return fatfs.RootName + strings.Join(names, "/"), nil
}
