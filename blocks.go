package fatfs // import "github.com/keks/fatfs"

import (
	"io"
)

// Basic Types

// ReadWriterAt is both a ReaderAt and a WriterAt.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Arena Geometry

const (
	// BlockSize is the size of every block in the arena.
	BlockSize = 512

	// FSSize is the default size of an arena.
	FSSize = 1 << 20

	// NumBlocks is the number of blocks in an arena of FSSize bytes.
	NumBlocks = FSSize / BlockSize

	// EntrySize is the encoded size of one allocation table entry.
	EntrySize = 4
)

// Block Layer

// BlockID identifies blocks. It is the block's index in the arena, never an address.
type BlockID int32

const (
	// NoBlock marks a directory entry whose chain has not been materialized yet.
	NoBlock BlockID = -1
)

// Geometry describes how an arena of a given size is laid out.
type Geometry struct {
	Blocks      int     // total number of blocks
	TableBlocks int     // blocks occupied by the allocation table, starting at block 0
	Root        BlockID // first block of the root directory
}

// GeometryFor computes the layout of an arena of size bytes.
// The table is followed by the root directory; everything after that is data.
func GeometryFor(size int) (Geometry, error) {
	if size <= 0 || size%BlockSize != 0 {
		return Geometry{}, ErrBadGeometry
	}

	n := size / BlockSize
	tbl := (n*EntrySize + BlockSize - 1) / BlockSize

	// table, root, and at least one data block
	if n < tbl+2 {
		return Geometry{}, ErrBadGeometry
	}

	return Geometry{
		Blocks:      n,
		TableBlocks: tbl,
		Root:        BlockID(tbl),
	}, nil
}

// FirstData is the lowest block number that may be handed out by the allocator.
func (g Geometry) FirstData() BlockID {
	return g.Root + 1
}

// Contains reports whether b is a block of the arena.
func (g Geometry) Contains(b BlockID) bool {
	return b >= 0 && int(b) < g.Blocks
}

// Size is the arena size in bytes.
func (g Geometry) Size() int {
	return g.Blocks * BlockSize
}

// Directory Layer

const (
	// NameLen is the capacity of the name field, terminator included.
	NameLen = 16

	// MaxNameLen is the longest usable name in bytes.
	MaxNameLen = NameLen - 1

	// DirEntrySize is the encoded size of one directory entry.
	DirEntrySize = 32

	// SlotsPerBlock is the number of directory entries in one block.
	SlotsPerBlock = BlockSize / DirEntrySize

	// ReservedSlots is the number of slots every subdirectory keeps for "." and "..".
	ReservedSlots = 2
)

const (
	// RootName is the name accepted by ChangeDir to jump to the root.
	RootName = "/"

	// SelfName names the self reference of a subdirectory.
	SelfName = "."

	// ParentName names the parent reference of a subdirectory.
	ParentName = ".."
)
