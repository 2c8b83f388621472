package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jotkit/jot/internal/autosync"
	"github.com/jotkit/jot/internal/config"
	"github.com/jotkit/jot/internal/dashboard"
	"github.com/jotkit/jot/internal/gitport"
	"github.com/jotkit/jot/internal/noteindex"
)

var watchForeground bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the auto-sync daemon",
	Long: `Watch the vault for changes and keep it synchronized with the remote.

The daemon:
- Commits and pushes your edits after a short quiet window
- Pulls remote changes on an independent periodic timer
- Retries transient failures with exponential backoff
- Halts automation on a merge conflict until 'jot sync' verifies
  the resolution
- Keeps the note index (.jot/index.db) current
- Performs one best-effort final sync at shutdown

With dashboard.enabled in config (or --foreground for log output on
stderr), a WebSocket endpoint broadcasts live status updates.

Runs until interrupted (Ctrl+C / SIGTERM).`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchForeground, "foreground", false, "Log to stderr instead of the rotating log file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	vault := resolveVault()

	var logWriter io.Writer
	if watchForeground {
		logWriter = os.Stderr
	} else {
		logWriter = &lumberjack.Logger{
			Filename:   config.LogPath(vault),
			MaxSize:    config.GetInt("log.max-size"),
			MaxBackups: config.GetInt("log.max-backups"),
			MaxAge:     config.GetInt("log.max-age"),
			Compress:   config.GetBool("log.compress"),
		}
	}
	logger := log.New(logWriter, "[jot] ", log.LstdFlags)

	git := gitport.New(vault)
	if !git.IsRepository() {
		return fmt.Errorf("%s is not a git repository; run 'git init' first", vault)
	}

	engine := autosync.NewEngine(git, config.EngineConfig(vault), logger)
	defer engine.Close()

	if err := engine.Initialize(); err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Note index updater, re-attached after every reconfiguration
	// because teardown closes the watcher's event channel.
	var indexDB *noteindex.DB
	var updater *noteindex.Updater
	if config.GetBool("index.enabled") {
		var err error
		indexDB, err = noteindex.Open(config.IndexPath(vault))
		if err != nil {
			return fmt.Errorf("failed to open note index: %w", err)
		}
		defer indexDB.Close()

		updater = noteindex.NewUpdater(indexDB, vault, logger)
		if err := updater.FullSync(ctx); err != nil {
			logger.Printf("Index full sync failed: %v", err)
		}
		if events := engine.ChangeEvents(); events != nil {
			go updater.Run(ctx, events)
		}
	}

	// Status dashboard.
	if config.GetBool("dashboard.enabled") {
		server := dashboard.NewServer(&dashboard.Config{
			Port:   config.GetInt("dashboard.port"),
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		detach := server.Attach(engine)
		defer func() {
			detach()
			if err := server.Stop(); err != nil {
				logger.Printf("Dashboard stop failed: %v", err)
			}
		}()
		fmt.Printf("Dashboard: http://localhost:%d\n", config.GetInt("dashboard.port"))
	}

	// Live reconfiguration when .jot/config.yaml changes.
	config.Watch(func() {
		logger.Printf("Configuration changed, reconfiguring")
		if err := engine.Reconfigure(config.EngineConfig(vault)); err != nil {
			logger.Printf("Reconfiguration failed: %v", err)
			return
		}
		if updater != nil {
			if events := engine.ChangeEvents(); events != nil {
				go updater.Run(ctx, events)
			}
		}
	})

	unsub := engine.OnStatusChanged(func(st autosync.Status) {
		logger.Printf("Status: %s - %s", st.State, st.Message)
	})
	defer unsub()

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", vault)
	<-ctx.Done()

	// Best-effort final sync; never blocks shutdown on failure.
	fmt.Println("\nShutting down, performing final sync...")
	finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	engine.FinalSync(finalCtx)

	return nil
}
