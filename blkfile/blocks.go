package blkfile

import (
	"fmt"

	"github.com/keks/fatfs"
)

// Blocks divides a Region into BlockSize-byte blocks.
type Blocks struct {
	geom fatfs.Geometry

	lower fatfs.ReadWriterAt
}

// New returns the block layer of r. The size of r determines the geometry.
func New(r Region) (*Blocks, error) {
	geom, err := fatfs.GeometryFor(len(r.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("region of %d bytes: %w", len(r.Bytes()), err)
	}

	return &Blocks{
		geom:  geom,
		lower: NewReadWriterAt(r.Bytes()),
	}, nil
}

func (blks *Blocks) Geometry() fatfs.Geometry {
	return blks.geom
}

// Get returns the view of block bid.
func (blks *Blocks) Get(bid fatfs.BlockID) (fatfs.ReadWriterAt, error) {
	blk, err := blks.get(bid)
	if err != nil {
		return nil, err
	}

	return blk, nil
}

func (blks *Blocks) get(bid fatfs.BlockID) (*block, error) {
	if !blks.geom.Contains(bid) {
		return nil, fmt.Errorf("block %d: %w", bid, fatfs.ErrInvalidChain)
	}

	return &block{
		off:   int64(bid) * fatfs.BlockSize,
		size:  fatfs.BlockSize,
		lower: blks.lower,
	}, nil
}

// Span returns a view of count consecutive blocks starting at bid.
func (blks *Blocks) Span(bid fatfs.BlockID, count int) (fatfs.ReadWriterAt, error) {
	if count <= 0 || !blks.geom.Contains(bid) || !blks.geom.Contains(bid+fatfs.BlockID(count-1)) {
		return nil, fmt.Errorf("span %d+%d: %w", bid, count, fatfs.ErrInvalidChain)
	}

	return &block{
		off:   int64(bid) * fatfs.BlockSize,
		size:  count * fatfs.BlockSize,
		lower: blks.lower,
	}, nil
}

// Zero clears the contents of block bid.
func (blks *Blocks) Zero(bid fatfs.BlockID) error {
	blk, err := blks.get(bid)
	if err != nil {
		return err
	}

	return blk.zero()
}
