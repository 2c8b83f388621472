// Command jot manages a vault of Markdown notes kept in a git repository,
// with continuous background synchronization against the remote.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jotkit/jot/internal/config"
)

var version = "dev"

var vaultFlag string

var rootCmd = &cobra.Command{
	Use:   "jot",
	Short: "Local-first notes with git auto-sync",
	Long: `jot keeps a directory of Markdown notes continuously synchronized
with a git remote: edits are committed and pushed automatically, remote
changes are pulled periodically, and merge conflicts halt the automation
until you resolve them.

The vault is any directory under git; jot stores its own metadata
(config, note index, logs) under .jot/ inside the vault.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize(resolveVault())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "Vault directory (default: nearest ancestor with .jot/, else CWD)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

// resolveVault locates the vault directory: the --vault flag if given,
// else the nearest ancestor containing .jot/, else the working directory.
func resolveVault() string {
	if vaultFlag != "" {
		abs, err := filepath.Abs(vaultFlag)
		if err == nil {
			return abs
		}
		return vaultFlag
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	for dir := cwd; ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, config.MetaDir)); err == nil && info.IsDir() {
			return dir
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}

	return cwd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
