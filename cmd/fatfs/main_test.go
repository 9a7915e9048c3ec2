package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/keks/fatfs"
)

const testSize = "16384"

func execute(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()

	var out, errw bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(in))
	root.SetOut(&out)
	root.SetErr(&errw)

	err := root.Execute()
	t.Logf("stderr: %s", errw.String())
	return out.String(), err
}

func TestConfigFlags(t *testing.T) {
	r := require.New(t)
	t.Setenv(ImageEnv, "from-env.img")

	cfg := DefaultConfig()
	r.Equal("from-env.img", cfg.Image)
	r.Equal(fatfs.FSSize, cfg.Size)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	r.NoError(fs.Parse([]string{"-i", "other.img", "--size", "4096", "--log-level", "debug", "--max-dir-blocks", "2"}))

	r.Equal("other.img", cfg.Image)
	r.Equal(4096, cfg.Size)
	r.Equal(2, cfg.MaxDirBlocks)

	log, err := cfg.Logger(&bytes.Buffer{})
	r.NoError(err)
	r.NotNil(log)

	cfg.LogLevel = "loud"
	_, err = cfg.Logger(&bytes.Buffer{})
	r.Error(err)
}

func TestFormatAndCheck(t *testing.T) {
	r := require.New(t)
	img := filepath.Join(t.TempDir(), "fs.img")

	_, err := execute(t, "", "check", "--image", img)
	r.Error(err, "missing image")

	out, err := execute(t, "", "format", "--image", img, "--size", testSize)
	r.NoError(err)
	r.Equal("Formatted "+img+": 32 blocks, 30 for data.\n", out)

	fi, err := os.Stat(img)
	r.NoError(err)
	r.EqualValues(16384, fi.Size())

	_, err = execute(t, "", "format", "--image", img, "--size", testSize)
	r.Error(err, "refuses to overwrite")

	out, err = execute(t, "", "format", "--image", img, "--size", testSize, "--force", "--quiet")
	r.NoError(err)
	r.Empty(out)

	out, err = execute(t, "", "check", "--image", img)
	r.NoError(err)
	r.Equal(img+": 0 files, 0 directories, 0 of 30 data blocks used, 30 free\n", out)

	_, err = execute(t, "", "format", "--image", img, "--size", "1000", "--force")
	r.ErrorIs(err, fatfs.ErrBadGeometry)
}

func TestCheckReportsDamage(t *testing.T) {
	r := require.New(t)
	img := filepath.Join(t.TempDir(), "fs.img")

	_, err := execute(t, "", "format", "--image", img, "--size", testSize)
	r.NoError(err)

	// mark data block 5 as allocated without any owner
	data, err := os.ReadFile(img)
	r.NoError(err)
	copy(data[5*4:], []byte{0xff, 0xff, 0xff, 0xff})
	r.NoError(os.WriteFile(img, data, 0600))

	out, err := execute(t, "", "check", "--image", img)
	r.ErrorIs(err, errInconsistent)
	r.Contains(out, "block 5 is allocated but unreachable")
}

func TestShellPersists(t *testing.T) {
	r := require.New(t)
	img := filepath.Join(t.TempDir(), "fs.img")

	out, err := execute(t, "mkdir docs\ncd docs\nmk a\nopen a\nwrite kept across runs\nexit\n",
		"--image", img, "--size", testSize)
	r.NoError(err)
	r.Contains(out, "fs > Directory 'docs' created.")
	r.Contains(out, "File system closed successfully.")

	out, err = execute(t, "cd docs\nopen a\nread 100\n",
		"shell", "--image", img, "--prompt", "")
	r.NoError(err)
	r.Contains(out, `Read 16 bytes: "kept across runs"`)

	out, err = execute(t, "", "check", "--image", img)
	r.NoError(err)
	r.Contains(out, "1 files, 1 directories, 2 of 30 data blocks used")
}

func TestRunScript(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	img := filepath.Join(dir, "fs.img")
	script := filepath.Join(dir, "script.txt")

	r.NoError(os.WriteFile(script, []byte("# setup\nmk a\nls\n"), 0600))

	out, err := execute(t, "", "run", script, "--image", img, "--size", testSize)
	r.NoError(err)
	r.Equal("> mk a\nFile 'a' created.\n> ls\na                0 bytes\n", out)

	_, err = execute(t, "", "run", filepath.Join(dir, "missing.txt"), "--image", img)
	r.Error(err)
}

func TestMaxDirBlocksFlag(t *testing.T) {
	r := require.New(t)
	img := filepath.Join(t.TempDir(), "fs.img")

	var script strings.Builder
	for i := 0; i <= fatfs.SlotsPerBlock; i++ {
		fmt.Fprintf(&script, "mk f%d\n", i)
	}

	out, err := execute(t, script.String(), "shell", "--prompt", "", "--image", img, "--size", testSize, "--max-dir-blocks", "1")
	r.NoError(err)
	r.Contains(out, fmt.Sprintf("Error: No free slot in current directory for 'f%d'.", fatfs.SlotsPerBlock))
}

func TestNotFormattedImage(t *testing.T) {
	r := require.New(t)
	img := filepath.Join(t.TempDir(), "fs.img")

	r.NoError(os.WriteFile(img, bytes.Repeat([]byte{0x42}, 16384), 0600))

	_, err := execute(t, "ls\n", "--image", img)
	r.ErrorIs(err, fatfs.ErrNotFormatted)
}
