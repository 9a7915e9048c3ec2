package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keks/fatfs"
	"github.com/keks/fatfs/blkfile"
	"github.com/keks/fatfs/engine"
	"github.com/keks/fatfs/shell"
)

// ShellOptions configures the command loop.
type ShellOptions struct {
	Prompt string // printed before each command
	Echo   bool   // print each command before its result
}

// DefaultShellOptions returns options for an interactive session.
func DefaultShellOptions() *ShellOptions {
	return &ShellOptions{
		Prompt: "fs > ",
		Echo:   false,
	}
}

// Shell runs commands read from in against the image until exit or the end of
// the input. The image is released in either case.
func Shell(cfg *Config, in io.Reader, out, errw io.Writer, opts *ShellOptions) error {
	if opts == nil {
		opts = DefaultShellOptions()
	}

	log, err := cfg.Logger(errw)
	if err != nil {
		return err
	}

	e, err := cfg.Open(log)
	if err != nil {
		return err
	}

	sh := shell.New(e, out, &shell.Options{Prompt: opts.Prompt, Echo: opts.Echo})
	runErr := sh.Run(in)

	if !sh.Exited() {
		if err := e.Shutdown(); err != nil && !errors.Is(err, fatfs.ErrClosed) {
			return fmt.Errorf("close image: %w", err)
		}
	}

	return runErr
}

func newShellCmd(cfg *Config) *cobra.Command {
	opts := DefaultShellOptions()

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run the interactive shell (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Shell(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Prompt, "prompt", opts.Prompt, "prompt printed before each command")
	cmd.Flags().BoolVar(&opts.Echo, "echo", opts.Echo, "print each command before running it")

	return cmd
}

// RunScript runs the commands in the file at path, echoing each one.
func RunScript(cfg *Config, path string, out, errw io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	return Shell(cfg, f, out, errw, &ShellOptions{Echo: true})
}

func newRunCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script>",
		Short: "Run shell commands from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunScript(cfg, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// FormatOptions configures Format.
type FormatOptions struct {
	Force bool // overwrite an existing image
	Quiet bool // suppress non-error output
}

// DefaultFormatOptions returns default options for Format.
func DefaultFormatOptions() *FormatOptions {
	return &FormatOptions{
		Force: false,
		Quiet: false,
	}
}

// Format creates an image of the configured size holding an empty file system.
func Format(cfg *Config, out io.Writer, opts *FormatOptions) error {
	if opts == nil {
		opts = DefaultFormatOptions()
	}

	size, err := blkfile.ImageSize(cfg.Image)
	if err != nil {
		return fmt.Errorf("image %s: %w", cfg.Image, err)
	}
	if size != 0 && !opts.Force {
		return fmt.Errorf("image %s already exists (use --force to overwrite)", cfg.Image)
	}

	geom, err := fatfs.GeometryFor(cfg.Size)
	if err != nil {
		return fmt.Errorf("size %d: %w", cfg.Size, err)
	}

	mf, err := blkfile.MapFile(cfg.Image, cfg.Size)
	if err != nil {
		return err
	}

	if err := engine.Format(mf); err != nil {
		mf.Close()
		return fmt.Errorf("format %s: %w", cfg.Image, err)
	}

	if err := mf.Close(); err != nil {
		return err
	}

	if !opts.Quiet {
		fmt.Fprintf(out, "Formatted %s: %d blocks, %d for data.\n", cfg.Image, geom.Blocks, geom.Blocks-int(geom.FirstData()))
	}

	return nil
}

func newFormatCmd(cfg *Config) *cobra.Command {
	opts := DefaultFormatOptions()

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Create an image holding an empty file system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Format(cfg, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", opts.Force, "overwrite an existing image")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", opts.Quiet, "suppress non-error output")

	return cmd
}

var errInconsistent = errors.New("file system is inconsistent")

// Check verifies the image and prints the report. An inconsistent file
// system is reported as an error.
func Check(cfg *Config, out, errw io.Writer) error {
	size, err := blkfile.ImageSize(cfg.Image)
	if err != nil {
		return fmt.Errorf("image %s: %w", cfg.Image, err)
	}
	if size == 0 {
		return fmt.Errorf("image %s does not exist", cfg.Image)
	}

	log, err := cfg.Logger(errw)
	if err != nil {
		return err
	}

	e, err := cfg.Open(log)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	rep, err := e.Check()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d files, %d directories, %d of %d data blocks used, %d free\n",
		cfg.Image, rep.Files, rep.Dirs, rep.Owned, rep.Blocks, rep.Free)

	if rep.OK() {
		return nil
	}

	for _, p := range rep.Problems {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return fmt.Errorf("%d problems: %w", len(rep.Problems), errInconsistent)
}

func newCheckCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the consistency of the image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Check(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}
