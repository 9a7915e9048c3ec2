package dir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
)

// Entry describes a file or a subdirectory.
type Entry struct {
	Name  string
	Start fatfs.BlockID // first block, or NoBlock for a file without data
	Size  int           // logical length in bytes, files only
	Used  bool
	Dir   bool
}

// rawEntry is the on-disk layout of an Entry, DirEntrySize bytes.
type rawEntry struct {
	Name  [fatfs.NameLen]byte
	Start int32
	Size  int32
	Used  int32
	Dir   int32
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (e Entry) raw() rawEntry {
	var raw rawEntry
	copy(raw.Name[:fatfs.MaxNameLen], e.Name)
	raw.Start = int32(e.Start)
	raw.Size = int32(e.Size)
	raw.Used = boolInt(e.Used)
	raw.Dir = boolInt(e.Dir)
	return raw
}

func (raw rawEntry) entry() Entry {
	name := raw.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Entry{
		Name:  string(name),
		Start: fatfs.BlockID(raw.Start),
		Size:  int(raw.Size),
		Used:  raw.Used != 0,
		Dir:   raw.Dir != 0,
	}
}

func readEntry(blk fatfs.ReadWriterAt, slot int) (Entry, error) {
	var raw rawEntry
	err := binary.Read(blkfile.NewReader(blk, int64(slot)*fatfs.DirEntrySize), binary.LittleEndian, &raw)
	if err != nil {
		return Entry{}, fmt.Errorf("read slot %d: %w", slot, err)
	}

	return raw.entry(), nil
}

func writeEntry(blk fatfs.ReadWriterAt, slot int, e Entry) error {
	err := binary.Write(blkfile.NewWriter(blk, int64(slot)*fatfs.DirEntrySize), binary.LittleEndian, e.raw())
	if err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}

	return nil
}

// CheckName validates a name for a new entry.
func CheckName(name string) error {
	switch {
	case name == "", name == fatfs.SelfName, name == fatfs.ParentName:
		return fmt.Errorf("%q: %w", name, fatfs.ErrInvalidName)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%q: %w", name, fatfs.ErrInvalidName)
	case len(name) > fatfs.MaxNameLen:
		return fmt.Errorf("%q is %d bytes, at most %d are allowed: %w", name, len(name), fatfs.MaxNameLen, fatfs.ErrNameTooLong)
	}

	return nil
}
