package logs

// EntryKind tags one conversation entry parsed from a provider log.
type EntryKind int

const (
	EntryUser EntryKind = iota
	EntryAssistant
	EntryToolUse
	EntryToolResult
	EntryProgress
	EntrySystem
	EntryFileSnapshot
)

// ConversationEntry is one rendered item of a session's conversation
// preview. Tool holds the tool name for ToolUse/ToolResult; Meta holds the
// progress or system sub-kind; TrackedCount/Paths are set only for
// EntryFileSnapshot.
type ConversationEntry struct {
	Kind         EntryKind
	Text         string
	Tool         string
	Meta         string
	TrackedCount int
	Paths        []string
}

// MaxConversationEntries bounds each session's conversation buffer; the
// oldest entries are dropped first.
const MaxConversationEntries = 500

// ConversationBuffer holds a session's bounded conversation history plus
// the parse offset it resumes from (bytes for JSONL providers, message
// index for Gemini).
type ConversationBuffer struct {
	Entries    []ConversationEntry
	ReadOffset uint64
}

// Extend appends entries, dropping from the front past the cap.
func (b *ConversationBuffer) Extend(entries []ConversationEntry) {
	b.Entries = append(b.Entries, entries...)
	if over := len(b.Entries) - MaxConversationEntries; over > 0 {
		b.Entries = append([]ConversationEntry(nil), b.Entries[over:]...)
	}
}

// Replace discards the buffer contents and installs the given entries.
func (b *ConversationBuffer) Replace(entries []ConversationEntry) {
	b.Entries = nil
	b.Extend(entries)
}
