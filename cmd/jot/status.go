package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jotkit/jot/internal/config"
	"github.com/jotkit/jot/internal/gitport"
	"github.com/jotkit/jot/internal/noteindex"
)

var (
	statusLabel = lipgloss.NewStyle().Bold(true).Width(14)
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	statusBad   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault and sync status",
	Long: `Report the vault's repository state: current branch, local changes,
unresolved conflicts, remote connectivity, and note index statistics.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	vault := resolveVault()
	git := gitport.New(vault)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println(statusLabel.Render("Vault:") + vault)

	if !git.IsRepository() {
		fmt.Println(statusLabel.Render("Repository:") + statusBad.Render("not a git repository"))
		return nil
	}

	branch, err := git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if branch == "" {
		fmt.Println(statusLabel.Render("Branch:") + statusWarn.Render("detached HEAD"))
	} else {
		fmt.Println(statusLabel.Render("Branch:") + branch)
	}

	conflicted, err := git.HasConflicts(ctx)
	if err != nil {
		return err
	}
	if conflicted {
		files, _ := git.ConflictedFiles(ctx)
		fmt.Println(statusLabel.Render("Conflicts:") + statusBad.Render(fmt.Sprintf("%d file(s) unresolved", len(files))))
		for _, f := range files {
			fmt.Printf("              %s\n", f)
		}
	} else {
		fmt.Println(statusLabel.Render("Conflicts:") + statusOK.Render("none"))
	}

	changed, err := git.HasLocalChanges(ctx)
	if err != nil {
		return err
	}
	if changed {
		fmt.Println(statusLabel.Render("Working tree:") + statusWarn.Render("uncommitted changes"))
	} else {
		fmt.Println(statusLabel.Render("Working tree:") + statusOK.Render("clean"))
	}

	if git.TestConnectivity(ctx) {
		fmt.Println(statusLabel.Render("Remote:") + statusOK.Render("reachable"))
	} else {
		fmt.Println(statusLabel.Render("Remote:") + statusWarn.Render("unreachable"))
	}

	if config.GetBool("index.enabled") {
		if db, err := noteindex.Open(config.IndexPath(vault)); err == nil {
			defer db.Close()
			if stats, err := db.Stats(ctx); err == nil {
				fmt.Println(statusLabel.Render("Notes:") + fmt.Sprintf("%d (%d words)", stats.NoteCount, stats.TotalWords))
				if !stats.LastEdited.IsZero() {
					fmt.Println(statusLabel.Render("Last edit:") + stats.LastEdited.Local().Format("2006-01-02 15:04"))
				}
			}
		}
	}

	return nil
}
