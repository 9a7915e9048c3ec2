package blkfile

import (
	"io"

	"github.com/keks/fatfs"
)

// block is a bounded view of size bytes at off in the lower ReadWriterAt.
type block struct {
	off  int64
	size int

	lower fatfs.ReadWriterAt
}

func (blk *block) ReadAt(dst []byte, off int64) (int, error) {
	if off < 0 || off >= int64(blk.size) {
		return 0, io.EOF
	}

	max := blk.size - int(off)
	var retEOF bool
	if max < len(dst) {
		dst = dst[:max]
		retEOF = true
	}

	n, err := blk.lower.ReadAt(dst, off+blk.off)
	if err != nil {
		return n, err
	}

	// return EOF if the caller wanted to read beyond the end of the block
	if retEOF {
		return n, io.EOF
	}

	return n, nil
}

func (blk *block) WriteAt(data []byte, off int64) (int, error) {
	if off < 0 || off >= int64(blk.size) {
		return 0, io.EOF
	}

	max := blk.size - int(off)
	var retErr bool
	if max < len(data) {
		data = data[:max]
		retErr = true
	}

	n, err := blk.lower.WriteAt(data, off+blk.off)
	if err != nil {
		// NOTE: this is only expected if the lower layer has failures,
		//       like e.g. a region that is shorter than its geometry.
		return n, err
	}

	// return EOF if the caller wanted to write beyond the end of the block
	if retErr {
		return n, io.EOF
	}

	return n, nil
}

func (blk *block) zero() error {
	_, err := blk.lower.WriteAt(make([]byte, blk.size), blk.off)
	return err
}
