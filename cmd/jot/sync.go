package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jotkit/jot/internal/autosync"
	"github.com/jotkit/jot/internal/config"
	"github.com/jotkit/jot/internal/gitport"
)

var syncYes bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the vault now",
	Long: `Pull remote changes, then commit and push local edits, bypassing the
watch daemon's debounce window.

If a previous sync hit a merge conflict, jot verifies that the working
tree is conflict free before resuming. Resolve the conflicts in your
editor, commit nothing (jot commits for you), then run this command.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "Skip the conflict-resolution confirmation prompt")
}

func runSync(cmd *cobra.Command, args []string) error {
	vault := resolveVault()

	git := gitport.New(vault)
	if !git.IsRepository() {
		return fmt.Errorf("%s is not a git repository", vault)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// A standalone sync run uses the same engine as the daemon, minus
	// watchers: manual sync never needs the debounce machinery.
	cfg := config.EngineConfig(vault)
	cfg.Enabled = false
	engine := autosync.NewEngine(git, cfg, nil)
	defer engine.Close()

	conflicted, err := git.HasConflicts(ctx)
	if err != nil {
		return fmt.Errorf("could not inspect working tree: %w", err)
	}
	if conflicted {
		files, _ := git.ConflictedFiles(ctx)
		fmt.Println("The vault has unresolved merge conflicts:")
		for _, f := range files {
			fmt.Printf("  %s\n", f)
		}
		fmt.Println("\nResolve the conflict markers in these files, then run 'jot sync' again.")
		return fmt.Errorf("unresolved conflicts")
	}

	if !syncYes && term.IsTerminal(int(os.Stdin.Fd())) {
		var proceed bool
		confirm := huh.NewConfirm().
			Title("Synchronize vault with remote?").
			Description("Pull remote changes, then commit and push local edits.").
			Affirmative("Sync").
			Negative("Cancel").
			Value(&proceed)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}

	if err := engine.SynchronizeNow(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println("Vault synchronized.")
	return nil
}
