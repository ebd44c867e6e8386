package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/hydra/internal/logs"
)

func collectPreviews(p *PreviewRuntime, mgr *mockManager, names []string, conv map[string][]logs.ConversationEntry, controlMode bool) []PreviewUpdate {
	var out []PreviewUpdate
	p.Tick(context.Background(), mgr, names,
		func(name string) ([]PreviewUpdate, bool) {
			entries, ok := conv[name]
			if !ok || len(entries) == 0 {
				return nil, false
			}
			return []PreviewUpdate{{TmuxName: name, Conversation: entries}}, true
		},
		controlMode,
		func(u PreviewUpdate) { out = append(out, u) })
	return out
}

func TestPreviewConversationServedWithoutCapture(t *testing.T) {
	mgr := newMockManager()
	p := NewPreviewRuntime()

	conv := map[string][]logs.ConversationEntry{
		"s1": {{Kind: logs.EntryAssistant, Text: "hi"}},
	}
	updates := collectPreviews(p, mgr, []string{"s1"}, conv, true)

	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsConversation())
	assert.Empty(t, mgr.captureLog, "conversation previews cost no capture")
}

func TestPreviewExplicitRequestAlwaysCaptures(t *testing.T) {
	mgr := newMockManager()
	mgr.captures["s1"] = "pane content"
	p := NewPreviewRuntime()

	p.Request("s1", false)
	updates := collectPreviews(p, mgr, []string{"s1"}, nil, true)

	require.Len(t, updates, 1)
	assert.False(t, updates[0].IsConversation())
	assert.Equal(t, "pane content", updates[0].Capture)
	assert.Equal(t, []string{"s1"}, mgr.captureLog)
}

func TestPreviewScrollbackRequest(t *testing.T) {
	mgr := newMockManager()
	mgr.captures["s1"] = "history"
	p := NewPreviewRuntime()

	p.Request("s1", true)
	updates := collectPreviews(p, mgr, []string{"s1"}, nil, true)

	require.Len(t, updates, 1)
	assert.True(t, updates[0].Scrollback)
}

func TestPreviewBackgroundSessionsUseCachedCapture(t *testing.T) {
	mgr := newMockManager()
	mgr.captures["s1"] = "fresh"
	p := NewPreviewRuntime()

	// First tick captures live (dirty) and caches.
	p.MarkDirty("s1")
	updates := collectPreviews(p, mgr, []string{"s1"}, nil, true)
	require.Len(t, updates, 1)
	require.Len(t, mgr.captureLog, 1)

	// In control mode a non-dirty session is served from cache.
	updates = collectPreviews(p, mgr, []string{"s1"}, nil, true)
	require.Len(t, updates, 1)
	assert.Equal(t, "fresh", updates[0].Capture)
	assert.Len(t, mgr.captureLog, 1, "no second live capture")
}

func TestPreviewSpinnerChurnNotRepushed(t *testing.T) {
	mgr := newMockManager()
	mgr.captures["s1"] = "⠋ Working 1s"
	p := NewPreviewRuntime()

	p.MarkDirty("s1")
	updates := collectPreviews(p, mgr, []string{"s1"}, nil, true)
	require.Len(t, updates, 1, "first capture always pushes")

	// The next frame differs only by spinner glyph and counter digits:
	// identical once normalized, so nothing new reaches the UI.
	mgr.captures["s1"] = "⠙ Working 2s"
	p.MarkDirty("s1")
	updates = collectPreviews(p, mgr, []string{"s1"}, nil, true)
	assert.Empty(t, updates, "spinner-only churn is not content")

	// Real content change pushes again.
	mgr.captures["s1"] = "⠹ Done."
	p.MarkDirty("s1")
	updates = collectPreviews(p, mgr, []string{"s1"}, nil, true)
	require.Len(t, updates, 1)
	assert.Equal(t, "⠹ Done.", updates[0].Capture)
}

func TestPreviewExplicitRequestPushesEvenWhenUnchanged(t *testing.T) {
	mgr := newMockManager()
	mgr.captures["s1"] = "⠋ same"
	p := NewPreviewRuntime()

	p.Request("s1", false)
	require.Len(t, collectPreviews(p, mgr, []string{"s1"}, nil, true), 1)

	p.Request("s1", false)
	updates := collectPreviews(p, mgr, []string{"s1"}, nil, true)
	require.Len(t, updates, 1, "an explicit request is always answered")
}

func TestPreviewPlanPrefersRequestsThenDirty(t *testing.T) {
	p := NewPreviewRuntime()
	names := []string{"a", "b", "c", "d"}

	p.MarkDirty("c")
	p.Request("d", false)

	plan := p.plan(names)
	require.NotEmpty(t, plan)
	assert.Equal(t, "d", plan[0].tmuxName, "explicit request first")
	assert.True(t, plan[0].requested)
	assert.Equal(t, "c", plan[1].tmuxName, "dirty session second")
}

func TestPreviewRoundRobinAdvances(t *testing.T) {
	p := NewPreviewRuntime()
	names := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		names = append(names, string(rune('a'+i)))
	}

	first := p.plan(names)
	second := p.plan(names)
	require.Len(t, first, maxPreviewUpdatesPerTick)
	require.Len(t, second, maxPreviewUpdatesPerTick)
	assert.NotEqual(t, first[0].tmuxName, second[0].tmuxName, "cursor advances between ticks")
}
