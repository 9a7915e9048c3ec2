package engine

import (
	"errors"
	"fmt"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/dir"
	"github.com/keks/fatfs/fat"
)

// handle is the cursor of the open file. It is bound to the slot the file was
// found in and to the file's identity at that time, not to the current
// directory, so it stays valid across ChangeDir.
type handle struct {
	loc  dir.Loc
	name string
	head fatfs.BlockID

	filePos  int
	blockPos int
}

// Handle describes the open file.
type Handle struct {
	Name     string
	Slot     dir.Loc
	Start    fatfs.BlockID
	FilePos  int
	BlockPos int
}

// Handle returns the state of the open file, if there is one.
func (e *Engine) Handle() (Handle, bool) {
	e.l.Lock()
	defer e.l.Unlock()

	if e.open == nil {
		return Handle{}, false
	}

	h := e.open
	return Handle{
		Name:     h.name,
		Slot:     h.loc,
		Start:    h.head,
		FilePos:  h.filePos,
		BlockPos: h.blockPos,
	}, true
}

// OpenFile opens the file called name in the current directory with the
// cursor at the start. A file that was open before is closed.
func (e *Engine) OpenFile(name string) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	loc, ent, err := e.cur().Find(name)
	if err != nil {
		return err
	}
	if ent.Dir {
		return fmt.Errorf("%q is a directory: %w", name, fatfs.ErrNotFound)
	}

	e.closeFile()
	e.open = &handle{
		loc:  loc,
		name: ent.Name,
		head: ent.Start,
	}

	e.log.Debug("opened file", "name", name, "block", loc.Block, "slot", loc.Slot)
	return nil
}

// CloseFile closes the open file. Closing when no file is open does nothing.
func (e *Engine) CloseFile() error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	e.closeFile()
	return nil
}

func (e *Engine) closeFile() {
	if e.open != nil {
		e.log.Debug("closed file", "name", e.open.name)
	}
	e.open = nil
}

// entry re-reads the entry of the open file and makes sure it is still the
// file that was opened. A handle whose file has gone away is closed.
func (e *Engine) entry() (*handle, *dir.Directory, dir.Entry, error) {
	h := e.open
	if h == nil {
		return nil, nil, dir.Entry{}, fatfs.ErrNoHandleOpen
	}

	d := dir.Open(e.blks, e.tbl, h.loc.Block)
	ent, err := d.Get(h.loc)
	if err != nil {
		return nil, nil, dir.Entry{}, err
	}

	if !ent.Used || ent.Dir || ent.Name != h.name || ent.Start != h.head {
		e.log.Warn("open file changed underneath the handle", "name", h.name, "slot", h.loc.Slot)
		e.closeFile()
		return nil, nil, dir.Entry{}, fmt.Errorf("%q: %w", h.name, fatfs.ErrStaleHandle)
	}

	return h, d, ent, nil
}

// hop returns the block hops blocks into the chain at head. With grow set,
// the chain is extended as needed; otherwise running off its end yields
// ErrTruncated.
func (e *Engine) hop(head fatfs.BlockID, hops int, grow bool) (fatfs.BlockID, error) {
	b := head
	for i := 0; i < hops; i++ {
		next, err := e.tbl.Next(b)
		if err != nil {
			return 0, err
		}

		switch {
		case next == fat.EOF && grow:
			next, err = e.extend(b)
			if err != nil {
				return 0, err
			}
		case next == fat.EOF:
			return 0, fmt.Errorf("chain at %d ends after %d blocks: %w", head, i+1, fatfs.ErrTruncated)
		case next == fat.Free:
			return 0, fmt.Errorf("block %d in chain at %d is free: %w", b, head, fatfs.ErrInvalidChain)
		}

		b = next
	}

	return b, nil
}

// WriteFile writes p at the cursor and advances it, growing the file as
// needed. If the arena runs out of blocks, the write stops early; the count
// of bytes written is returned without an error, so callers must compare it
// to len(p).
func (e *Engine) WriteFile(p []byte) (int, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return 0, err
	}

	h, d, ent, err := e.entry()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	// blocks the file had before this write
	owned := 0
	if ent.Start == fatfs.NoBlock {
		b, err := e.allocate()
		if errors.Is(err, fatfs.ErrExhausted) {
			e.log.Debug("short write", "name", h.name, "written", 0, "requested", len(p))
			return 0, nil
		}
		if err != nil {
			return 0, err
		}

		ent.Start = b
		if err := d.Put(h.loc, ent); err != nil {
			if ferr := e.freeChain(b); ferr != nil {
				return 0, errors.Join(err, ferr)
			}
			return 0, err
		}
		h.head = b
	} else {
		chain, err := e.tbl.Chain(ent.Start)
		if err != nil {
			return 0, err
		}
		owned = len(chain)
	}

	written, err := e.writeChain(ent.Start, h.filePos, p)
	short := errors.Is(err, fatfs.ErrExhausted)
	if short {
		e.log.Debug("short write", "name", h.name, "written", written, "requested", len(p))
		err = nil
	}

	// record what made it in, even if the write failed halfway
	h.filePos += written
	h.blockPos = h.filePos % fatfs.BlockSize
	if h.filePos > ent.Size {
		ent.Size = h.filePos
		if perr := d.Put(h.loc, ent); perr != nil && err == nil {
			err = perr
		}
	}

	if short && err == nil {
		err = e.trim(h, d, ent, owned)
	}

	return written, err
}

// trim gives back the blocks a short write appended past the end of the data,
// keeping at least the owned blocks the file had before.
func (e *Engine) trim(h *handle, d *dir.Directory, ent dir.Entry, owned int) error {
	keep := max(owned, (ent.Size+fatfs.BlockSize-1)/fatfs.BlockSize)
	if keep > 0 {
		return e.truncate(ent.Start, keep)
	}

	if err := e.freeChain(ent.Start); err != nil {
		return err
	}

	ent.Start = fatfs.NoBlock
	h.head = fatfs.NoBlock
	return d.Put(h.loc, ent)
}

func (e *Engine) writeChain(head fatfs.BlockID, pos int, p []byte) (int, error) {
	b, err := e.hop(head, pos/fatfs.BlockSize, true)
	if err != nil {
		return 0, err
	}

	off := pos % fatfs.BlockSize
	written := 0
	for written < len(p) {
		if off == fatfs.BlockSize {
			b, err = e.hop(b, 1, true)
			if err != nil {
				return written, err
			}
			off = 0
		}

		blk, err := e.blks.Get(b)
		if err != nil {
			return written, err
		}

		n := min(len(p)-written, fatfs.BlockSize-off)
		if _, err := blk.WriteAt(p[written:written+n], int64(off)); err != nil {
			return written, err
		}

		written += n
		off += n
	}

	return written, nil
}

// ReadFile reads up to max bytes at the cursor and advances it. At the end of
// the file it returns no bytes and no error.
func (e *Engine) ReadFile(max int) ([]byte, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return nil, err
	}

	h, _, ent, err := e.entry()
	if err != nil {
		return nil, err
	}

	readable := ent.Size - h.filePos
	if readable <= 0 || max <= 0 {
		return []byte{}, nil
	}
	if ent.Start == fatfs.NoBlock {
		return nil, fmt.Errorf("%q has %d bytes but no blocks: %w", h.name, ent.Size, fatfs.ErrTruncated)
	}

	buf := make([]byte, min(max, readable))
	n, err := e.readChain(ent.Start, h.filePos, buf)

	h.filePos += n
	h.blockPos = h.filePos % fatfs.BlockSize

	return buf[:n], err
}

func (e *Engine) readChain(head fatfs.BlockID, pos int, buf []byte) (int, error) {
	b, err := e.hop(head, pos/fatfs.BlockSize, false)
	if err != nil {
		return 0, err
	}

	off := pos % fatfs.BlockSize
	read := 0
	for read < len(buf) {
		if off == fatfs.BlockSize {
			b, err = e.hop(b, 1, false)
			if err != nil {
				return read, err
			}
			off = 0
		}

		blk, err := e.blks.Get(b)
		if err != nil {
			return read, err
		}

		n := min(len(buf)-read, fatfs.BlockSize-off)
		if _, err := blk.ReadAt(buf[read:read+n], int64(off)); err != nil {
			return read, err
		}

		read += n
		off += n
	}

	return read, nil
}

// SeekFile moves the cursor to the absolute position pos. Positions past the
// end of the file are allowed; a later write there fills the gap with zeroes.
// If pos lies inside the file but the chain is too short to reach it,
// ErrTruncated is returned.
func (e *Engine) SeekFile(pos int) error {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return err
	}

	h, _, ent, err := e.entry()
	if err != nil {
		return err
	}
	if pos < 0 {
		return fmt.Errorf("seek to %d: %w", pos, fatfs.ErrNegativePosition)
	}

	if ent.Start == fatfs.NoBlock {
		if pos < ent.Size {
			return fmt.Errorf("%q has %d bytes but no blocks: %w", h.name, ent.Size, fatfs.ErrTruncated)
		}
	} else if _, err := e.hop(ent.Start, pos/fatfs.BlockSize, false); err != nil {
		if !errors.Is(err, fatfs.ErrTruncated) || pos < ent.Size {
			return err
		}
	}

	h.filePos = pos
	h.blockPos = pos % fatfs.BlockSize
	return nil
}
