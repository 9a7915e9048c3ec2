package fatfs

import "errors"

var (
	ErrBadGeometry      = errors.New("region size is not a usable arena size")
	ErrNotFormatted     = errors.New("arena is not formatted")
	ErrNameTooLong      = errors.New("name is too long")
	ErrInvalidName      = errors.New("invalid name")
	ErrNameExists       = errors.New("name already exists")
	ErrNotFound         = errors.New("not found")
	ErrWrongKind        = errors.New("wrong kind of entry")
	ErrNotEmpty         = errors.New("directory is not empty")
	ErrNoFreeSlot       = errors.New("no free slot in directory")
	ErrExhausted        = errors.New("no free block")
	ErrInvalidChain     = errors.New("invalid block chain")
	ErrTruncated        = errors.New("chain is shorter than its size")
	ErrInvalidTarget    = errors.New("target is not a directory block")
	ErrNoHandleOpen     = errors.New("no file is open")
	ErrStaleHandle      = errors.New("open file no longer exists")
	ErrNegativePosition = errors.New("negative position")
	ErrAlreadyAtRoot    = errors.New("already at root directory")
	ErrEmpty            = errors.New("directory is empty")
	ErrClosed           = errors.New("file system is shut down")
)

// ErrNoFreeBlock is the name the directory layer uses for ErrExhausted.
var ErrNoFreeBlock = ErrExhausted
