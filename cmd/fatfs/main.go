// Command fatfs manages a FAT style file system stored in a single image file.
//
//	fatfs                 interactive shell on fs.img
//	fatfs format          lay out an empty file system
//	fatfs check           verify the image
//	fatfs run script.txt  run shell commands from a file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := DefaultConfig()

	root := &cobra.Command{
		Use:           "fatfs",
		Short:         "A FAT style file system in a single image file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Shell(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), DefaultShellOptions())
		},
	}
	cfg.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newShellCmd(cfg),
		newFormatCmd(cfg),
		newCheckCmd(cfg),
		newRunCmd(cfg),
	)

	return root
}
