// Package shell runs the interactive command loop on top of an engine. Each
// line is one command; every result, including errors, is printed as a line of
// text so that nothing ends the loop except exit or the end of the input.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/engine"
)

// Options configures a Shell.
type Options struct {
	Prompt string // printed before reading each line; empty disables it
	Echo   bool   // print every command before running it
}

// DefaultOptions returns the options used when New is passed nil.
func DefaultOptions() *Options {
	return &Options{
		Prompt: "fs > ",
		Echo:   false,
	}
}

// Shell reads commands and runs them against an engine.
type Shell struct {
	e    *engine.Engine
	out  io.Writer
	opts Options

	exited bool
}

// New returns a shell that runs commands on e and prints to out.
func New(e *engine.Engine, out io.Writer, opts *Options) *Shell {
	if opts == nil {
		opts = DefaultOptions()
	}

	return &Shell{e: e, out: out, opts: *opts}
}

// Exited reports whether the exit command was run.
func (sh *Shell) Exited() bool {
	return sh.exited
}

// Run executes the lines of in until it is exhausted or exit is run. The
// error is only set if reading the input failed.
func (sh *Shell) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for !sh.exited {
		if sh.opts.Prompt != "" {
			fmt.Fprint(sh.out, sh.opts.Prompt)
		}

		if !scanner.Scan() {
			if sh.opts.Prompt != "" {
				fmt.Fprintln(sh.out)
			}
			return scanner.Err()
		}

		sh.Exec(scanner.Text())
	}

	return nil
}

// Exec runs a single command line. Blank lines and lines starting with # are
// ignored.
func (sh *Shell) Exec(s string) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return
	}

	if sh.opts.Echo {
		fmt.Fprintf(sh.out, "> %s\n", s)
	}

	c := parse(s)
	cmd, ok := commands[c.verb]
	if !ok {
		sh.printf("Command unknown: %q. Type 'help' for a list of commands.", c.verb)
		return
	}

	if cmd.args >= 0 && len(c.args) != cmd.args || cmd.args < 0 && c.rest == "" {
		sh.printf("To use this command: %s", cmd.usage)
		return
	}

	cmd.run(sh, c)
}

func (sh *Shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format+"\n", args...)
}

// line is a tokenized command line. rest is everything after the verb with
// its spacing intact.
type line struct {
	verb string
	args []string
	rest string
}

func parse(s string) line {
	verb, rest := s, ""
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		verb, rest = s[:i], strings.TrimLeft(s[i:], " \t")
	}

	return line{
		verb: strings.ToLower(verb),
		args: strings.Fields(rest),
		rest: rest,
	}
}

type command struct {
	usage string
	help  string

	// args is the exact number of arguments; -1 takes the rest of the line
	args int
	run  func(*Shell, line)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"mk":    {"mk <name>", "create an empty file", 1, (*Shell).mk},
		"rm":    {"rm <name>", "erase a file", 1, (*Shell).rm},
		"mkdir": {"mkdir <name>", "create a directory", 1, (*Shell).mkdir},
		"rmdir": {"rmdir <name>", "erase an empty directory", 1, (*Shell).rmdir},
		"ls":    {"ls", "list the current directory", 0, (*Shell).ls},
		"cd":    {"cd <name|..|/>", "change the current directory", 1, (*Shell).cd},
		"pwd":   {"pwd", "print the current directory", 0, (*Shell).pwd},
		"open":  {"open <name>", "open a file for reading and writing", 1, (*Shell).open},
		"close": {"close", "close the open file", 0, (*Shell).close},
		"write": {"write <text>", "write text at the cursor of the open file", -1, (*Shell).write},
		"read":  {"read <count>", "read up to count bytes at the cursor", 1, (*Shell).read},
		"seek":  {"seek <position>", "move the cursor of the open file", 1, (*Shell).seek},
		"stat":  {"stat <name>", "describe an entry", 1, (*Shell).stat},
		"df":    {"df", "count free blocks", 0, (*Shell).df},
		"check": {"check", "verify the consistency of the file system", 0, (*Shell).check},
		"help":  {"help", "list commands", 0, (*Shell).help},
		"exit":  {"exit", "close the file system and leave", 0, (*Shell).exit},
	}
}

func (sh *Shell) mk(c line) {
	name := c.args[0]
	if err := sh.e.CreateFile(name); err != nil {
		sh.fail(err, name)
		return
	}
	sh.printf("File '%s' created.", name)
}

func (sh *Shell) rm(c line) {
	name := c.args[0]
	err := sh.e.EraseFile(name)
	switch {
	case errors.Is(err, fatfs.ErrWrongKind):
		sh.printf("Error: '%s' is a directory, use 'rmdir'.", name)
	case err != nil:
		sh.fail(err, name)
	default:
		sh.printf("File '%s' deleted.", name)
	}
}

func (sh *Shell) mkdir(c line) {
	name := c.args[0]
	if err := sh.e.CreateDir(name); err != nil {
		sh.fail(err, name)
		return
	}
	sh.printf("Directory '%s' created.", name)
}

func (sh *Shell) rmdir(c line) {
	name := c.args[0]
	err := sh.e.EraseDir(name)
	switch {
	case errors.Is(err, fatfs.ErrWrongKind):
		sh.printf("Error: '%s' is a file, use 'rm'.", name)
	case err != nil:
		sh.fail(err, name)
	default:
		sh.printf("Directory '%s' deleted.", name)
	}
}

func (sh *Shell) ls(line) {
	ls, err := sh.e.ListDir()
	if err != nil {
		sh.fail(err, "")
		return
	}

	for _, l := range ls {
		if l.Dir {
			sh.printf("%s/", l.Name)
		} else {
			sh.printf("%-16s %d bytes", l.Name, l.Size)
		}
	}
}

func (sh *Shell) cd(c line) {
	name := c.args[0]
	if err := sh.e.ChangeDir(name); err != nil {
		sh.fail(err, name)
		return
	}

	switch name {
	case fatfs.RootName:
		sh.printf("Changed to root directory.")
	case fatfs.ParentName:
		sh.printf("Changed to parent directory.")
	case fatfs.SelfName:
		sh.printf("Stayed in the current directory.")
	default:
		sh.printf("Changed directory to '%s'.", name)
	}
}

func (sh *Shell) pwd(line) {
	p, err := sh.e.Path()
	if err != nil {
		sh.fail(err, "")
		return
	}
	sh.printf("%s", p)
}

func (sh *Shell) open(c line) {
	name := c.args[0]
	if err := sh.e.OpenFile(name); err != nil {
		sh.fail(err, name)
		return
	}
	sh.printf("File '%s' opened.", name)
}

func (sh *Shell) close(line) {
	if err := sh.e.CloseFile(); err != nil {
		sh.fail(err, "")
		return
	}
	sh.printf("File closed.")
}

func (sh *Shell) write(c line) {
	n, err := sh.e.WriteFile([]byte(c.rest))
	switch {
	case err != nil:
		sh.fail(err, "")
	case n < len(c.rest):
		sh.printf("Wrote %d of %d bytes, no space left.", n, len(c.rest))
	default:
		sh.printf("Wrote %d bytes.", n)
	}
}

func (sh *Shell) read(c line) {
	count, ok := sh.number(c.args[0])
	if !ok {
		return
	}

	buf, err := sh.e.ReadFile(count)
	if len(buf) > 0 || err == nil {
		sh.printf("Read %d bytes: %q", len(buf), buf)
	}
	if err != nil {
		sh.fail(err, "")
	}
}

func (sh *Shell) seek(c line) {
	pos, ok := sh.number(c.args[0])
	if !ok {
		return
	}

	if err := sh.e.SeekFile(pos); err != nil {
		sh.fail(err, "")
		return
	}
	sh.printf("Moved to position %d.", pos)
}

func (sh *Shell) stat(c line) {
	l, err := sh.e.Stat(c.args[0])
	if err != nil {
		sh.fail(err, c.args[0])
		return
	}

	kind := "file"
	if l.Dir {
		kind = "directory"
	}
	sh.printf("%s: %s, %d bytes in %d blocks", l.Name, kind, l.Size, l.Blocks)
}

func (sh *Shell) df(line) {
	free, err := sh.e.FreeBlocks()
	if err != nil {
		sh.fail(err, "")
		return
	}

	geom := sh.e.Geometry()
	sh.printf("%d of %d data blocks free.", free, geom.Blocks-int(geom.FirstData()))
}

func (sh *Shell) check(line) {
	rep, err := sh.e.Check()
	if err != nil {
		sh.fail(err, "")
		return
	}

	if rep.OK() {
		sh.printf("File system is consistent: %d files, %d directories, %d blocks used, %d free.",
			rep.Files, rep.Dirs, rep.Owned, rep.Free)
		return
	}

	sh.printf("Found %d problems:", len(rep.Problems))
	for _, p := range rep.Problems {
		sh.printf("  %s", p)
	}
}

func (sh *Shell) help(line) {
	verbs := make([]string, 0, len(commands))
	for verb := range commands {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)

	for _, verb := range verbs {
		cmd := commands[verb]
		sh.printf("  %-16s %s", cmd.usage, cmd.help)
	}
}

func (sh *Shell) exit(line) {
	sh.printf("Exiting file system...")
	sh.exited = true

	if err := sh.e.Shutdown(); err != nil && !errors.Is(err, fatfs.ErrClosed) {
		sh.fail(err, "")
		return
	}
	sh.printf("File system closed successfully.")
}

func (sh *Shell) number(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		sh.printf("Error: '%s' is not a number.", s)
		return 0, false
	}
	return n, true
}

// fail prints err as a message about name.
func (sh *Shell) fail(err error, name string) {
	switch {
	case errors.Is(err, fatfs.ErrAlreadyAtRoot):
		sh.printf("Already at root directory.")
	case errors.Is(err, fatfs.ErrEmpty):
		sh.printf("Current directory is empty.")
	case errors.Is(err, fatfs.ErrNameTooLong):
		sh.printf("Error: name is too long, at most %d bytes are allowed.", fatfs.MaxNameLen)
	case errors.Is(err, fatfs.ErrInvalidName):
		sh.printf("Error: '%s' is not a valid name.", name)
	case errors.Is(err, fatfs.ErrNameExists):
		sh.printf("Error: An entry with the name '%s' already exists.", name)
	case errors.Is(err, fatfs.ErrNotFound):
		sh.printf("Error: '%s' not found.", name)
	case errors.Is(err, fatfs.ErrNotEmpty):
		sh.printf("Error: Directory '%s' is not empty.", name)
	case errors.Is(err, fatfs.ErrNoFreeSlot):
		sh.printf("Error: No free slot in current directory for '%s'.", name)
	case errors.Is(err, fatfs.ErrExhausted):
		sh.printf("Error: No free data block available for '%s'.", name)
	case errors.Is(err, fatfs.ErrNoHandleOpen):
		sh.printf("Error: No file is open.")
	case errors.Is(err, fatfs.ErrStaleHandle):
		sh.printf("Error: The open file has changed and was closed.")
	case errors.Is(err, fatfs.ErrNegativePosition):
		sh.printf("Error: Position must not be negative.")
	case errors.Is(err, fatfs.ErrTruncated):
		sh.printf("Error: The file is shorter on disk than its size says.")
	case errors.Is(err, fatfs.ErrInvalidTarget):
		sh.printf("Error: Invalid directory block.")
	case errors.Is(err, fatfs.ErrClosed):
		sh.printf("Error: The file system is closed.")
	default:
		sh.printf("Error: %v", err)
	}
}
