//go:build unix

package blkfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a Region backed by a memory mapped image file.
type File struct {
	f    *os.File
	data []byte
}

// MapFile opens or creates the image at path, sizes it to size bytes and maps
// it shared and read-write. Writes to Bytes reach the file on Flush or Close.
func MapFile(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	if fi.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("size image: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map image: %w", err)
	}

	return &File{f: f, data: data}, nil
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

func (mf *File) Bytes() []byte { return mf.data }

func (mf *File) Flush() error {
	if mf.data == nil {
		return os.ErrClosed
	}

	if err := unix.Msync(mf.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("sync image: %w", err)
	}

	return nil
}

func (mf *File) Close() error {
	if mf.data == nil {
		return os.ErrClosed
	}

	ferr := mf.Flush()

	if err := unix.Munmap(mf.data); err != nil {
		return fmt.Errorf("unmap image: %w", err)
	}
	mf.data = nil

	if err := mf.f.Close(); err != nil {
		return fmt.Errorf("close image: %w", err)
	}

	return ferr
}
