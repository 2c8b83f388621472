package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jotkit/jot/internal/config"
	"github.com/jotkit/jot/internal/gitport"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a jot vault in the current directory",
	Long: `Create the .jot metadata directory and a default config.yaml.

The directory should already be a git repository with a remote
configured; jot warns if it is not, since auto-sync needs one.

Example:
  cd ~/notes && git init && jot init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		vault := resolveVault()

		metaDir := filepath.Join(vault, config.MetaDir)
		if err := os.MkdirAll(metaDir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", metaDir, err)
		}

		configPath := filepath.Join(metaDir, "config.yaml")
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}

		fmt.Printf("Initialized vault at %s\n", vault)
		fmt.Printf("Config written to %s\n", configPath)

		if !gitport.New(vault).IsRepository() {
			fmt.Println("\nWarning: this directory is not a git repository.")
			fmt.Println("Run 'git init' and add a remote to enable auto-sync.")
		}

		return nil
	},
}
