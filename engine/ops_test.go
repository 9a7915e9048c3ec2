package engine

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/keks/fatfs/blkfile"
	"github.com/stretchr/testify/require"
)

// 32 blocks: table in block 0, root in block 1, data from block 2.
const testSize = 16 << 10

type op interface {
	Do(*testing.T, *Engine)
}

func expectErr(t *testing.T, err, expErr error) {
	t.Helper()
	if expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, expErr)
	}
}

type mkOp struct {
	name string
	dir  bool

	expErr error
}

func (op mkOp) Do(t *testing.T, e *Engine) {
	var err error
	if op.dir {
		err = e.CreateDir(op.name)
	} else {
		err = e.CreateFile(op.name)
	}
	expectErr(t, err, op.expErr)
}

type rmOp struct {
	name string
	dir  bool

	expErr error
}

func (op rmOp) Do(t *testing.T, e *Engine) {
	var err error
	if op.dir {
		err = e.EraseDir(op.name)
	} else {
		err = e.EraseFile(op.name)
	}
	expectErr(t, err, op.expErr)
}

type cdOp struct {
	name string

	expPath string
	expErr  error
}

func (op cdOp) Do(t *testing.T, e *Engine) {
	expectErr(t, e.ChangeDir(op.name), op.expErr)

	if op.expPath != "" {
		p, err := e.Path()
		require.NoError(t, err)
		require.Equal(t, op.expPath, p)
	}
}

type lsOp struct {
	exp []string

	expErr error
}

func (op lsOp) Do(t *testing.T, e *Engine) {
	ls, err := e.ListDir()
	expectErr(t, err, op.expErr)

	var names []string
	for _, l := range ls {
		name := l.Name
		if l.Dir {
			name += "/"
		}
		names = append(names, name)
	}
	require.Equal(t, op.exp, names)
}

type openOp struct {
	name string

	expErr error
}

func (op openOp) Do(t *testing.T, e *Engine) {
	expectErr(t, e.OpenFile(op.name), op.expErr)
}

type closeOp struct{}

func (op closeOp) Do(t *testing.T, e *Engine) {
	require.NoError(t, e.CloseFile())

	_, open := e.Handle()
	require.False(t, open)
}

type writeOp struct {
	data []byte

	expN   int
	expErr error
}

func (op writeOp) Do(t *testing.T, e *Engine) {
	n, err := e.WriteFile(op.data)
	t.Logf("writeOp, n: %d, err: %v", n, err)

	expectErr(t, err, op.expErr)
	require.Equal(t, op.expN, n)
}

type readOp struct {
	max int

	exp    []byte
	expErr error
}

func (op readOp) Do(t *testing.T, e *Engine) {
	buf, err := e.ReadFile(op.max)
	t.Logf("readOp, n: %d, err: %v", len(buf), err)

	expectErr(t, err, op.expErr)
	require.True(t, bytes.Equal(op.exp, buf), "read %q, want %q", buf, op.exp)
}

type seekOp struct {
	pos int

	expErr error
}

func (op seekOp) Do(t *testing.T, e *Engine) {
	expectErr(t, e.SeekFile(op.pos), op.expErr)
}

type statOp struct {
	name string

	expSize   int
	expBlocks int
	expErr    error
}

func (op statOp) Do(t *testing.T, e *Engine) {
	l, err := e.Stat(op.name)
	expectErr(t, err, op.expErr)
	if op.expErr == nil {
		require.Equal(t, op.expSize, l.Size, "size")
		require.Equal(t, op.expBlocks, l.Blocks, "blocks")
	}
}

type freeOp struct {
	exp int
}

func (op freeOp) Do(t *testing.T, e *Engine) {
	n, err := e.FreeBlocks()
	require.NoError(t, err)
	require.Equal(t, op.exp, n, "free blocks")
}

type checkOp struct{}

func (op checkOp) Do(t *testing.T, e *Engine) {
	rep, err := e.Check()
	require.NoError(t, err)
	require.True(t, rep.OK(), "problems: %v", rep.Problems)
	require.Equal(t, rep.Blocks, rep.Free+rep.Owned)
}

type funcOp func(*testing.T, *Engine)

func (op funcOp) Do(t *testing.T, e *Engine) {
	op(t, e)
}

type testcase struct {
	name string
	ops  []op
}

// run executes the ops of tc against an in-memory arena and against a mapped
// image file.
func run(tc testcase) func(*testing.T) {
	return func(t *testing.T) {
		t.Run("mem", func(t *testing.T) {
			e, err := New(blkfile.NewMem(testSize), nil)
			require.NoError(t, err)

			for _, op := range tc.ops {
				op.Do(t, e)
				t.Logf("ok: %T", op)
			}
		})

		t.Run("file", func(t *testing.T) {
			mf, err := blkfile.MapFile(filepath.Join(t.TempDir(), "fs.img"), testSize)
			require.NoError(t, err)

			e, err := New(mf, nil)
			require.NoError(t, err)
			defer e.Shutdown()

			for _, op := range tc.ops {
				op.Do(t, e)
				t.Logf("ok: %T", op)
			}
		})
	}
}
