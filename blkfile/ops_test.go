package blkfile

import (
	"bytes"
	"testing"

	"github.com/keks/fatfs"
	"github.com/stretchr/testify/require"
)

type op interface {
	Do(*testing.T, *Blocks)
}

type blkWriteOp struct {
	bid  fatfs.BlockID
	data []byte
	off  int64

	expN   int
	expErr string
}

func (op blkWriteOp) Do(t *testing.T, blks *Blocks) {
	r := require.New(t)

	blk, err := blks.Get(op.bid)
	r.NoError(err)

	n, err := blk.WriteAt(op.data, op.off)

	t.Logf("writeOp, bid: %d, n: %d, err: %v", op.bid, n, err)

	r.Equal(op.expN, n)
	if op.expErr == "" {
		r.NoError(err)
	} else {
		r.EqualError(err, op.expErr)
	}
}

type blkReadOp struct {
	bid     fatfs.BlockID
	off     int64
	readlen int

	exp    []byte
	expN   int
	expErr string
}

func (op blkReadOp) Do(t *testing.T, blks *Blocks) {
	r := require.New(t)
	if op.readlen == 0 {
		op.readlen = len(op.exp)
	}

	blk, err := blks.Get(op.bid)
	r.NoError(err)

	buf := make([]byte, op.readlen)
	n, err := blk.ReadAt(buf, op.off)

	t.Logf("readOp, bid: %d, n: %d, err: %v", op.bid, n, err)

	if op.expErr == "" {
		r.NoError(err)
	} else {
		r.EqualError(err, op.expErr)
	}
	r.Equal(op.expN, n)
	t.Logf("buffer contents %q | 0x%x", buf[:op.expN], buf[:op.expN])
	r.True(bytes.Equal(buf[:op.expN], op.exp))
}

type blkGetOp struct {
	bid fatfs.BlockID

	expErr error
}

func (op blkGetOp) Do(t *testing.T, blks *Blocks) {
	_, err := blks.Get(op.bid)
	if op.expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, op.expErr)
	}
}

type blkZeroOp struct {
	bid fatfs.BlockID
}

func (op blkZeroOp) Do(t *testing.T, blks *Blocks) {
	require.NoError(t, blks.Zero(op.bid))
}

type dumpOp struct {
	name string
	v    interface{}
}

func (op dumpOp) Do(t *testing.T, blks *Blocks) {
	t.Logf("%s: %#v", op.name, op.v)
}
