package blkfile

import (
	"io"

	"github.com/keks/fatfs"
)

// Region is the backing byte region of an arena. Mutations of Bytes are
// persisted by Flush; Close flushes and releases the region.
type Region interface {
	Bytes() []byte
	Flush() error
	Close() error
}

// Mem is a Region that lives only in memory.
type Mem struct {
	buf []byte
}

// NewMem returns a zeroed in-memory region of size bytes.
func NewMem(size int) *Mem {
	return &Mem{buf: make([]byte, size)}
}

func (m *Mem) Bytes() []byte { return m.buf }
func (m *Mem) Flush() error  { return nil }
func (m *Mem) Close() error  { return nil }

// NewReadWriterAt exposes a byte slice as a fixed-size ReadWriterAt.
func NewReadWriterAt(buf []byte) fatfs.ReadWriterAt {
	return &bytesReadWriterAt{buf}
}

type bytesReadWriterAt struct {
	buf []byte
}

func (rwa *bytesReadWriterAt) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off != int64(int(off)) {
		return 0, io.EOF
	}

	if int(off) >= len(rwa.buf) {
		return 0, io.EOF
	}

	max := len(rwa.buf) - int(off)
	var err error
	if max < len(buf) {
		buf = buf[:max]
		err = io.EOF
	}

	copy(buf, rwa.buf[int(off):])

	return len(buf), err
}

func (rwa *bytesReadWriterAt) WriteAt(data []byte, off int64) (int, error) {
	if off < 0 || off != int64(int(off)) {
		return 0, io.EOF
	}

	if int(off) >= len(rwa.buf) {
		return 0, io.ErrShortWrite
	}

	// the region never grows
	max := len(rwa.buf) - int(off)
	var err error
	if max < len(data) {
		data = data[:max]
		err = io.ErrShortWrite
	}

	copy(rwa.buf[int(off):], data)

	return len(data), err
}
