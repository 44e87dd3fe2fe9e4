// Package cmd defines the CLI commands for the oeissync executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// version is stamped at build time via -ldflags.
var version = "dev"

// exitError carries the process exit code for pass outcomes that are not
// plain errors: an aborted pass exits 2, an interrupted pass exits 3.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oeissync",
		Short: "Synchronizes a local mirror of the On-Line Encyclopedia of Integer Sequences",
		Long: `oeissync maintains a local mirror of the remote sequence database.
It crawls entries and their b-files over a bounded worker pool, detects
content changes, and records resumable progress so an interrupted pass
can continue where it stopped.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newSyncCmd(), newExportCmd(), newProbeCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			return ee.code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
