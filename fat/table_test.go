package fat

import (
	"testing"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
	"github.com/stretchr/testify/require"
)

// 32 blocks: table in block 0, root in block 1, data from block 2.
const testSize = 16 << 10

func newTable(t *testing.T) *Table {
	blks, err := blkfile.New(blkfile.NewMem(testSize))
	require.NoError(t, err)

	tbl, err := New(blks)
	require.NoError(t, err)
	require.NoError(t, tbl.Format())

	return tbl
}

func TestFormat(t *testing.T) {
	r := require.New(t)

	blks, err := blkfile.New(blkfile.NewMem(fatfs.FSSize))
	r.NoError(err)
	tbl, err := New(blks)
	r.NoError(err)

	ok, err := tbl.Formatted()
	r.NoError(err)
	r.False(ok)

	r.NoError(tbl.Format())
	ok, err = tbl.Formatted()
	r.NoError(err)
	r.True(ok)

	chain, err := tbl.Chain(0)
	r.NoError(err)
	r.Len(chain, 16)
	r.Equal(fatfs.BlockID(15), chain[15])

	next, err := tbl.Next(16)
	r.NoError(err)
	r.Equal(EOF, next)

	free, err := tbl.FreeCount()
	r.NoError(err)
	r.Equal(fatfs.NumBlocks-17, free)
}

func TestAllocate(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	b, err := tbl.Allocate()
	r.NoError(err)
	r.Equal(fatfs.BlockID(2), b)

	b, err = tbl.Allocate()
	r.NoError(err)
	r.Equal(fatfs.BlockID(3), b)

	next, err := tbl.Next(3)
	r.NoError(err)
	r.Equal(EOF, next)

	// first fit reuses the lowest free block
	r.NoError(tbl.FreeChain(2))
	b, err = tbl.Allocate()
	r.NoError(err)
	r.Equal(fatfs.BlockID(2), b)
}

func TestAllocateExhausted(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	for i := 2; i < 32; i++ {
		b, err := tbl.Allocate()
		r.NoError(err)
		r.Equal(fatfs.BlockID(i), b)
	}

	_, err := tbl.Allocate()
	r.ErrorIs(err, fatfs.ErrExhausted)

	free, err := tbl.FreeCount()
	r.NoError(err)
	r.Zero(free)
}

func TestExtend(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	head, err := tbl.Allocate()
	r.NoError(err)
	other, err := tbl.Allocate()
	r.NoError(err)

	b1, err := tbl.Extend(head)
	r.NoError(err)
	b2, err := tbl.Extend(b1)
	r.NoError(err)

	chain, err := tbl.Chain(head)
	r.NoError(err)
	r.Equal([]fatfs.BlockID{head, b1, b2}, chain)

	tail, err := tbl.Tail(head)
	r.NoError(err)
	r.Equal(b2, tail)

	_, err = tbl.Extend(head)
	r.ErrorIs(err, fatfs.ErrInvalidChain, "head is not the tail")

	_, err = tbl.Extend(20)
	r.ErrorIs(err, fatfs.ErrInvalidChain, "free block is not a tail")

	chain, err = tbl.Chain(other)
	r.NoError(err)
	r.Equal([]fatfs.BlockID{other}, chain)
}

func TestFormattedWithGrownRoot(t *testing.T) {
	type testcase struct {
		name  string
		links map[fatfs.BlockID]fatfs.BlockID
		exp   bool
	}

	root := fatfs.BlockID(1)
	tcs := []testcase{
		{name: "fresh", exp: true},
		{name: "two blocks", links: map[fatfs.BlockID]fatfs.BlockID{root: 2, 2: EOF}, exp: true},
		{name: "three blocks", links: map[fatfs.BlockID]fatfs.BlockID{root: 5, 5: 3, 3: EOF}, exp: true},
		{name: "root free", links: map[fatfs.BlockID]fatfs.BlockID{root: Free}, exp: false},
		{name: "through a free block", links: map[fatfs.BlockID]fatfs.BlockID{root: 2}, exp: false},
		{name: "into the table", links: map[fatfs.BlockID]fatfs.BlockID{root: 0}, exp: false},
		{name: "out of range", links: map[fatfs.BlockID]fatfs.BlockID{root: 2, 2: 4000}, exp: false},
		{name: "loop", links: map[fatfs.BlockID]fatfs.BlockID{root: 2, 2: 3, 3: 2}, exp: false},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			tbl := newTable(t)

			for b, next := range tc.links {
				r.NoError(tbl.set(b, next))
			}

			ok, err := tbl.Formatted()
			r.NoError(err)
			r.Equal(tc.exp, ok)
		})
	}

	t.Run("extend", func(t *testing.T) {
		r := require.New(t)
		tbl := newTable(t)

		tail := tbl.Geometry().Root
		for i := 0; i < 3; i++ {
			b, err := tbl.Extend(tail)
			r.NoError(err)
			tail = b
		}

		ok, err := tbl.Formatted()
		r.NoError(err)
		r.True(ok)
	})
}

func TestTruncate(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	head, err := tbl.Allocate()
	r.NoError(err)
	tail := head
	for i := 0; i < 4; i++ {
		tail, err = tbl.Extend(tail)
		r.NoError(err)
	}

	free, err := tbl.FreeCount()
	r.NoError(err)

	r.NoError(tbl.Truncate(head, 10), "already short enough")
	chain, err := tbl.Chain(head)
	r.NoError(err)
	r.Len(chain, 5)

	r.NoError(tbl.Truncate(head, 2))
	short, err := tbl.Chain(head)
	r.NoError(err)
	r.Equal(chain[:2], short)

	for _, b := range chain[2:] {
		ok, err := tbl.IsFree(b)
		r.NoError(err)
		r.True(ok, "block %d", b)
	}

	after, err := tbl.FreeCount()
	r.NoError(err)
	r.Equal(free+3, after)

	r.ErrorIs(tbl.Truncate(head, 0), fatfs.ErrInvalidChain)
}

func TestExtendExhaustedLeavesChain(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	head, err := tbl.Allocate()
	r.NoError(err)
	for {
		if _, err := tbl.Allocate(); err != nil {
			break
		}
	}

	_, err = tbl.Extend(head)
	r.ErrorIs(err, fatfs.ErrExhausted)

	next, err := tbl.Next(head)
	r.NoError(err)
	r.Equal(EOF, next)
}

func TestFreeChain(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	head, err := tbl.Allocate()
	r.NoError(err)
	tail := head
	for i := 0; i < 4; i++ {
		tail, err = tbl.Extend(tail)
		r.NoError(err)
	}

	before, err := tbl.FreeCount()
	r.NoError(err)

	r.NoError(tbl.FreeChain(head))

	after, err := tbl.FreeCount()
	r.NoError(err)
	r.Equal(before+5, after)

	free, err := tbl.IsFree(tail)
	r.NoError(err)
	r.True(free)

	r.ErrorIs(tbl.FreeChain(head), fatfs.ErrInvalidChain, "double free")
	r.ErrorIs(tbl.FreeChain(1), fatfs.ErrInvalidChain, "root is reserved")
}

func TestWalk(t *testing.T) {
	type testcase struct {
		name string

		// table entries set after format, block -> next
		links map[fatfs.BlockID]fatfs.BlockID
		head  fatfs.BlockID

		exp    []fatfs.BlockID
		expErr error
	}

	var tcs = []testcase{
		{
			name:  "single",
			links: map[fatfs.BlockID]fatfs.BlockID{5: EOF},
			head:  5,
			exp:   []fatfs.BlockID{5},
		},
		{
			name:  "scattered",
			links: map[fatfs.BlockID]fatfs.BlockID{9: 4, 4: 30, 30: EOF},
			head:  9,
			exp:   []fatfs.BlockID{9, 4, 30},
		},
		{
			name:   "free head",
			head:   7,
			expErr: fatfs.ErrInvalidChain,
		},
		{
			name:   "out of range head",
			head:   32,
			expErr: fatfs.ErrInvalidChain,
		},
		{
			name:   "negative head",
			head:   fatfs.NoBlock,
			expErr: fatfs.ErrInvalidChain,
		},
		{
			name:   "runs into free block",
			links:  map[fatfs.BlockID]fatfs.BlockID{5: 6},
			head:   5,
			exp:    []fatfs.BlockID{5},
			expErr: fatfs.ErrInvalidChain,
		},
		{
			name:   "runs out of the arena",
			links:  map[fatfs.BlockID]fatfs.BlockID{5: 99},
			head:   5,
			exp:    []fatfs.BlockID{5},
			expErr: fatfs.ErrInvalidChain,
		},
		{
			name:   "loop",
			links:  map[fatfs.BlockID]fatfs.BlockID{5: 6, 6: 5},
			head:   5,
			expErr: fatfs.ErrInvalidChain,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			tbl := newTable(t)

			for b, next := range tc.links {
				r.NoError(tbl.set(b, next))
			}

			var (
				got []fatfs.BlockID
				err error
			)
			for b, werr := range tbl.Walk(tc.head) {
				if werr != nil {
					err = werr
					break
				}
				got = append(got, b)
			}

			if tc.expErr == nil {
				r.NoError(err)
				r.Equal(tc.exp, got)
			} else {
				r.ErrorIs(err, tc.expErr)
				if tc.exp != nil {
					r.Equal(tc.exp, got)
				}
			}
		})
	}
}

func TestWalkStopsEarly(t *testing.T) {
	r := require.New(t)
	tbl := newTable(t)

	head, err := tbl.Allocate()
	r.NoError(err)
	_, err = tbl.Extend(head)
	r.NoError(err)

	var n int
	for range tbl.Walk(head) {
		n++
		break
	}
	r.Equal(1, n)
}
