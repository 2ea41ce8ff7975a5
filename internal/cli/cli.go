// Package cli provides the command-line interface for chatbox
package cli

import (
	"context"
)

// Run executes the root command with args until ctx is cancelled.
func Run(ctx context.Context, args []string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
