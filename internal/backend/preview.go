package backend

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/twistedxcom/hydra/internal/tmux"
)

const (
	maxPreviewUpdatesPerTick = 8
	liveCaptureBudgetControl = 2
	liveCaptureBudgetSubproc = 1
)

// PreviewRuntime decides which sessions get preview refreshes each tick
// and caps how many pay for a live pane capture. Explicit UI requests win,
// then sessions with fresh output, then a round-robin sweep that keeps
// background captures warm.
type PreviewRuntime struct {
	captureCache map[string]string
	// Normalized capture per session, the change-detection key: spinner
	// frames, counters, and ANSI churn normalize away, so a capture whose
	// normalized form is unchanged is the same content redrawn.
	normCache map[string]string
	dirty     map[string]struct{}
	requested map[string]bool // tmuxName → wants scrollback
	cursor    int

	// Smooths capture bursts across ticks on top of the per-tick budget.
	limiter *rate.Limiter
}

func NewPreviewRuntime() *PreviewRuntime {
	return &PreviewRuntime{
		captureCache: make(map[string]string),
		normCache:    make(map[string]string),
		dirty:        make(map[string]struct{}),
		requested:    make(map[string]bool),
		limiter:      rate.NewLimiter(rate.Every(100*time.Millisecond), liveCaptureBudgetControl*2),
	}
}

// MarkDirty flags a session as having fresh output.
func (p *PreviewRuntime) MarkDirty(tmuxName string) {
	p.dirty[tmuxName] = struct{}{}
}

// Request queues an explicit UI preview request.
func (p *PreviewRuntime) Request(tmuxName string, scrollback bool) {
	p.requested[tmuxName] = p.requested[tmuxName] || scrollback
}

// Prune drops state for dead sessions.
func (p *PreviewRuntime) Prune(live map[string]struct{}) {
	for k := range p.captureCache {
		if _, ok := live[k]; !ok {
			delete(p.captureCache, k)
		}
	}
	for k := range p.normCache {
		if _, ok := live[k]; !ok {
			delete(p.normCache, k)
		}
	}
	for k := range p.dirty {
		if _, ok := live[k]; !ok {
			delete(p.dirty, k)
		}
	}
	for k := range p.requested {
		if _, ok := live[k]; !ok {
			delete(p.requested, k)
		}
	}
}

type previewCandidate struct {
	tmuxName   string
	scrollback bool
	requested  bool
}

// Tick emits preview updates for the planned candidates. Sessions with a
// parsed conversation are served from it for free; the rest draw from the
// live-capture budget or fall back to the cached capture.
func (p *PreviewRuntime) Tick(
	ctx context.Context,
	mgr tmux.Manager,
	names []string,
	conversation func(string) ([]PreviewUpdate, bool),
	controlMode bool,
	push func(PreviewUpdate),
) {
	if len(names) == 0 {
		p.cursor = 0
		return
	}

	budget := liveCaptureBudgetSubproc
	if controlMode {
		budget = liveCaptureBudgetControl
	}

	for _, cand := range p.plan(names) {
		_, wasDirty := p.dirty[cand.tmuxName]
		delete(p.dirty, cand.tmuxName)

		if cand.scrollback {
			if content, err := mgr.CapturePaneScrollback(ctx, cand.tmuxName, 5000); err == nil {
				push(PreviewUpdate{TmuxName: cand.tmuxName, Capture: content, Scrollback: true})
			}
			continue
		}

		if updates, ok := conversation(cand.tmuxName); ok {
			for _, u := range updates {
				push(u)
			}
			continue
		}

		allowLive := cand.requested ||
			((wasDirty || !controlMode) && budget > 0 && p.limiter.Allow())
		if allowLive {
			budget--
			if content, err := mgr.CapturePane(ctx, cand.tmuxName); err == nil {
				norm := tmux.NormalizeCapture(content)
				unchanged := norm == p.normCache[cand.tmuxName]
				p.captureCache[cand.tmuxName] = content
				p.normCache[cand.tmuxName] = norm
				// Spinner-only churn re-renders the same content; pushing
				// it would make the UI redraw every animation frame.
				if !unchanged || cand.requested {
					push(PreviewUpdate{TmuxName: cand.tmuxName, Capture: content})
				}
				continue
			}
		}

		if cached, ok := p.captureCache[cand.tmuxName]; ok {
			push(PreviewUpdate{TmuxName: cand.tmuxName, Capture: cached})
		}
	}
}

func (p *PreviewRuntime) plan(names []string) []previewCandidate {
	max := maxPreviewUpdatesPerTick
	if len(names) < max {
		max = len(names)
	}

	candidates := make([]previewCandidate, 0, max)
	seen := make(map[string]struct{}, max)

	// Explicit UI requests first.
	for _, name := range names {
		if len(candidates) >= max {
			break
		}
		if scrollback, ok := p.requested[name]; ok {
			delete(p.requested, name)
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				candidates = append(candidates, previewCandidate{name, scrollback, true})
			}
		}
	}

	// Dirty sessions next.
	for _, name := range names {
		if len(candidates) >= max {
			break
		}
		if _, isDirty := p.dirty[name]; isDirty {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				candidates = append(candidates, previewCandidate{name, false, false})
			}
		}
	}

	// Round-robin fill for fairness and cache warmup.
	total := len(names)
	start := p.cursor % total
	visited := 0
	for len(candidates) < max && visited < total {
		name := names[(start+visited)%total]
		visited++
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		candidates = append(candidates, previewCandidate{name, false, false})
	}
	p.cursor = (start + visited) % total

	return candidates
}
