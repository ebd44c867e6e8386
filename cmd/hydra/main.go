// hydra is a terminal UI that runs several AI coding agents in parallel,
// each in its own tmux session, with persistence and revival across
// restarts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/twistedxcom/hydra/internal/backend"
	"github.com/twistedxcom/hydra/internal/config"
	"github.com/twistedxcom/hydra/internal/logging"
	"github.com/twistedxcom/hydra/internal/logs"
	"github.com/twistedxcom/hydra/internal/manifest"
	"github.com/twistedxcom/hydra/internal/session"
	"github.com/twistedxcom/hydra/internal/statedb"
	"github.com/twistedxcom/hydra/internal/tmux"
	"github.com/twistedxcom/hydra/internal/ui"
	"github.com/twistedxcom/hydra/internal/update"
)

const Version = "0.3.0"

func init() {
	// Consistent colors across terminals; lipgloss defaults to detecting
	// per-call otherwise.
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hydra:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	projectID := session.ProjectID(cwd)
	baseDir := manifest.DefaultBaseDir()

	cfg, cfgErr := config.Load(baseDir)
	logging.Init(logging.Config{
		LogDir: baseDir,
		Level:  cfg.Log.Level,
		Debug:  cfg.Log.Debug,
	})
	defer logging.Shutdown()
	if cfgErr != nil {
		logging.Logger().Warn("config_load_failed", slog.String("error", cfgErr.Error()))
	}
	logs.ApplyPricingConfig(cfg.Pricing)

	store := manifest.NewStore(baseDir, projectID)

	if len(args) == 0 {
		return runTUI(projectID, cwd, baseDir, store)
	}

	switch args[0] {
	case "new":
		if len(args) != 3 {
			return fmt.Errorf("usage: hydra new <agent> <name>")
		}
		return cmdNew(projectID, cwd, store, args[1], args[2])
	case "kill":
		if len(args) != 2 {
			return fmt.Errorf("usage: hydra kill <name>")
		}
		return cmdKill(projectID, store, args[1])
	case "ls":
		return cmdLs(projectID)
	case "update":
		return cmdUpdate()
	case "version", "--version", "-v":
		fmt.Println("hydra", Version)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try: new, kill, ls, update)", args[0])
	}
}

func cmdNew(projectID, cwd string, store *manifest.Store, agentStr, name string) error {
	agent, err := session.ParseAgentType(agentStr)
	if err != nil {
		return err
	}

	record := manifest.NewRecord(name, agent, projectID)
	mgr := tmux.NewSubprocessManager()
	tmuxName, err := mgr.CreateSession(context.Background(), projectID, name, agent, cwd, record.CreateCommand())
	if err != nil {
		return err
	}
	if err := store.Add(record); err != nil {
		return fmt.Errorf("session created but manifest save failed: %w", err)
	}
	fmt.Println("Created session:", tmuxName)
	return nil
}

func cmdKill(projectID string, store *manifest.Store, name string) error {
	mgr := tmux.NewSubprocessManager()
	tmuxName := session.TmuxSessionName(projectID, name)
	if err := mgr.KillSession(context.Background(), tmuxName); err != nil {
		return err
	}
	if err := store.Remove(name); err != nil {
		logging.Logger().Warn("manifest_remove_failed", slog.String("error", err.Error()))
	}
	fmt.Println("Killed session:", tmuxName)
	return nil
}

func cmdLs(projectID string) error {
	mgr := tmux.NewSubprocessManager()
	sessions, err := mgr.ListSessions(context.Background(), projectID)
	if err != nil {
		// No server or no sessions both mean an empty project.
		fmt.Println("No sessions for this project.")
		return nil
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions for this project.")
		return nil
	}

	statuses, _ := mgr.BatchPaneStatus(context.Background())
	for _, s := range sessions {
		state := "alive"
		if ps, ok := statuses[s.TmuxName]; ok && ps.Dead {
			state = "exited"
		}
		fmt.Printf("%-16s %-8s %s\n", s.Name, s.Agent, state)
	}
	return nil
}

func cmdUpdate() error {
	info, err := update.Check(Version)
	if err != nil {
		return err
	}
	if !info.Available {
		fmt.Println("hydra is up to date (" + Version + ")")
		return nil
	}
	fmt.Printf("Updating %s → %s\n", info.CurrentVersion, info.LatestVersion)
	if err := update.Apply(info.DownloadURL); err != nil {
		return err
	}
	fmt.Println("Updated. Restart hydra to use the new version.")
	return nil
}

// connectControl establishes the control-mode connection with the default
// retry policy: one more attempt after 2s, then fall back to the
// subprocess manager for the rest of the run.
func connectControl(ctx context.Context) *tmux.ControlConnection {
	conn, err := tmux.Connect(ctx)
	if err == nil {
		return conn
	}
	logging.Logger().Warn("control_connect_failed", slog.String("error", err.Error()))

	time.Sleep(2 * time.Second)
	conn, err = tmux.Connect(ctx)
	if err != nil {
		logging.Logger().Warn("control_connect_retry_failed", slog.String("error", err.Error()))
		return nil
	}
	return conn
}

func runTUI(projectID, cwd, baseDir string, store *manifest.Store) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("stdout is not a terminal")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mgr tmux.Manager
	opts := backend.Options{}
	if conn := connectControl(ctx); conn != nil {
		cm := tmux.NewControlManager(conn)
		mgr = cm
		opts.Control = conn
	} else {
		mgr = tmux.NewSubprocessManager()
	}

	home, _ := os.UserHomeDir()

	if db, err := statedb.Open(filepath.Join(baseDir, "usage.db")); err == nil {
		if err := db.Migrate(); err == nil {
			opts.DB = db
		} else {
			db.Close()
			logging.Logger().Warn("statedb_migrate_failed", slog.String("error", err.Error()))
		}
	} else {
		logging.Logger().Warn("statedb_open_failed", slog.String("error", err.Error()))
	}

	if watcher, err := logs.NewWatcher(home, cwd); err == nil {
		opts.Watcher = watcher
	} else {
		logging.Logger().Warn("watcher_unavailable", slog.String("error", err.Error()))
	}

	ch := backend.NewChannels()
	b := backend.New(mgr, store, ch, projectID, home, cwd, opts)
	go b.Run(ctx)

	app := ui.NewApp(ch, ch)
	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("terminal error: %w", err)
	}

	// The UI sent Shutdown on quit; cancelling covers the path where the
	// command queue was full.
	cancel()
	return nil
}
