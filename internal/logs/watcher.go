package logs

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the provider log roots and reports write activity per
// path. It supplements mtime polling: between 2s poll cycles, a write event
// lets the backend treat a session as active immediately.
type Watcher struct {
	fw     *fsnotify.Watcher
	home   string
	cwd    string
	events chan string
	done   chan struct{}
}

// NewWatcher starts watching the Claude project dir for this cwd plus the
// Codex and Gemini roots. Directories that don't exist yet are skipped;
// Rescan picks them up once a session creates them.
func NewWatcher(home, cwd string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fw:     fw,
		home:   home,
		cwd:    cwd,
		events: make(chan string, 64),
		done:   make(chan struct{}),
	}
	w.Rescan()

	go w.loop()
	return w, nil
}

func (w *Watcher) providerDirs() []string {
	return []string{
		filepath.Join(w.home, ".claude", "projects", EscapeProjectPath(w.cwd)),
		CodexSessionsDir(w.home),
		GeminiChatsDir(w.home, w.cwd),
	}
}

// Rescan re-registers the provider roots. The first session of an agent
// type creates its log directory after the watcher started; the backend
// calls this on session creation and revival so those directories don't
// stay invisible for the rest of the run.
func (w *Watcher) Rescan() {
	for _, dir := range w.providerDirs() {
		w.AddDir(dir)
	}
}

// AddDir registers a directory if it exists. Safe to call repeatedly:
// fsnotify treats re-adding a watched directory as a no-op.
func (w *Watcher) AddDir(dir string) {
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	if err := w.fw.Add(dir); err != nil {
		logsLog.Debug("watch_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}

// Events delivers paths that received writes, debounced per path.
func (w *Watcher) Events() <-chan string {
	return w.events
}

func (w *Watcher) loop() {
	// Per-path debounce: agents write JSONL in bursts; one event per burst
	// is plenty.
	const debounce = 250 * time.Millisecond
	lastSent := make(map[string]time.Time)

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			now := time.Now()
			if t, seen := lastSent[ev.Name]; seen && now.Sub(t) < debounce {
				continue
			}
			lastSent[ev.Name] = now
			select {
			case w.events <- ev.Name:
			default:
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logsLog.Debug("watch_error", slog.String("error", err.Error()))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	w.fw.Close()
}
