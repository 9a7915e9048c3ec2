package engine

import (
	"fmt"
	"path"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/dir"
)

// Report is the result of a consistency check.
type Report struct {
	Blocks int // data blocks in the arena
	Free   int // data blocks marked free
	Owned  int // data blocks reachable from an entry
	Files  int
	Dirs   int

	Problems []string
}

// OK reports whether the check found no problems.
func (rep *Report) OK() bool {
	return len(rep.Problems) == 0
}

func (rep *Report) problem(format string, args ...any) {
	rep.Problems = append(rep.Problems, fmt.Sprintf(format, args...))
}

type checker struct {
	e     *Engine
	rep   *Report
	owner []string
}

// Check walks the whole tree and verifies that the allocation table and the
// directory entries agree: every chain is valid, no block has two owners, no
// file is larger than its chain, and every allocated block belongs to an entry.
// Problems are collected in the report; the error is only set if the check
// itself could not run.
func (e *Engine) Check() (*Report, error) {
	e.l.Lock()
	defer e.l.Unlock()

	if err := e.check(); err != nil {
		return nil, err
	}

	geom := e.Geometry()
	c := &checker{
		e:     e,
		rep:   &Report{Blocks: geom.Blocks - int(geom.FirstData())},
		owner: make([]string, geom.Blocks),
	}

	ok, err := e.tbl.Formatted()
	if err != nil {
		return nil, err
	}
	if !ok {
		c.rep.problem("reserved table or root chain is damaged")
	}

	for b := 0; b < geom.TableBlocks; b++ {
		c.owner[b] = "table"
	}
	if !c.claim(geom.Root, "/") {
		return c.finish()
	}

	c.dir(geom.Root, "/", map[fatfs.BlockID]bool{})
	return c.finish()
}

// claim marks every block of the chain at head as owned by name.
func (c *checker) claim(head fatfs.BlockID, name string) bool {
	chain, err := c.e.tbl.Chain(head)
	if err != nil {
		c.rep.problem("%s: %v", name, err)
		return false
	}

	ok := true
	for _, b := range chain {
		if c.owner[b] != "" {
			c.rep.problem("%s: block %d is also owned by %s", name, b, c.owner[b])
			ok = false
			continue
		}
		c.owner[b] = name
	}

	return ok
}

func (c *checker) dir(head fatfs.BlockID, name string, seen map[fatfs.BlockID]bool) {
	if seen[head] {
		c.rep.problem("%s: directory loop at block %d", name, head)
		return
	}
	seen[head] = true

	d := dir.Open(c.e.blks, c.e.tbl, head)
	if !d.IsRoot() {
		self, err := d.Self()
		if err != nil || !self.Used || !self.Dir || self.Start != head {
			c.rep.problem("%s: bad self reference", name)
		}
	}

	var children []dir.Entry
	err := d.Each(func(_ dir.Loc, ent dir.Entry) bool {
		if ent.Used {
			children = append(children, ent)
		}
		return true
	})
	if err != nil {
		c.rep.problem("%s: %v", name, err)
		return
	}

	for _, ent := range children {
		p := path.Join(name, ent.Name)

		if !ent.Dir {
			c.rep.Files++
			c.file(ent, p)
			continue
		}

		c.rep.Dirs++
		if !c.claim(ent.Start, p) {
			continue
		}

		up, err := dir.Open(c.e.blks, c.e.tbl, ent.Start).Parent()
		if err != nil || !up.Used || up.Start != head {
			c.rep.problem("%s: parent reference does not point to %s", p, name)
		}

		c.dir(ent.Start, p, seen)
	}
}

func (c *checker) file(ent dir.Entry, p string) {
	if ent.Start == fatfs.NoBlock {
		if ent.Size != 0 {
			c.rep.problem("%s: %d bytes but no blocks", p, ent.Size)
		}
		return
	}

	if !c.claim(ent.Start, p) {
		return
	}

	chain, _ := c.e.tbl.Chain(ent.Start)
	if ent.Size < 0 || ent.Size > len(chain)*fatfs.BlockSize {
		c.rep.problem("%s: %d bytes do not fit in %d blocks", p, ent.Size, len(chain))
	}
}

func (c *checker) finish() (*Report, error) {
	geom := c.e.Geometry()

	for b := geom.FirstData(); int(b) < geom.Blocks; b++ {
		free, err := c.e.tbl.IsFree(b)
		if err != nil {
			return nil, err
		}

		switch {
		case free:
			c.rep.Free++
		case c.owner[b] == "":
			c.rep.problem("block %d is allocated but unreachable", b)
		default:
			c.rep.Owned++
		}
	}

	if !c.rep.OK() {
		c.e.log.Warn("consistency check failed", "problems", len(c.rep.Problems))
	}

	return c.rep, nil
}
