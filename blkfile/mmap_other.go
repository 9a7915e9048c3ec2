//go:build !unix

package blkfile

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("memory mapped images are only supported on unix")

// File is a Region backed by a memory mapped image file.
type File struct{}

// MapFile is not available on this platform.
func MapFile(path string, size int) (*File, error) {
	return nil, errNoMmap
}

// ImageSize returns the size of an existing image, or 0 if there is none.
func ImageSize(path string) (int, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return int(fi.Size()), nil
}

func (mf *File) Bytes() []byte { return nil }
func (mf *File) Flush() error  { return errNoMmap }
func (mf *File) Close() error  { return errNoMmap }
