package ui

import (
	"github.com/sahilm/fuzzy"

	"github.com/twistedxcom/hydra/internal/backend"
	"github.com/twistedxcom/hydra/internal/session"
)

// Row is one visual sidebar row: either a status group header or a session
// (identified by its index into the flat session list).
type Row struct {
	IsHeader bool
	Title    string
	Index    int
}

// BuildRows lays out the sidebar: explicit headers for each non-empty
// status group, sessions beneath. The session list arrives already sorted
// by (status, name), so one pass suffices.
func BuildRows(sessions []backend.SessionView) []Row {
	var rows []Row
	var lastStatus session.Status = -1
	for i, s := range sessions {
		if s.Status != lastStatus {
			rows = append(rows, Row{IsHeader: true, Title: s.Status.String(), Index: -1})
			lastStatus = s.Status
		}
		rows = append(rows, Row{Title: s.Name, Index: i})
	}
	return rows
}

// VisualRow returns the sidebar row occupied by the flat session index.
func VisualRow(rows []Row, index int) int {
	for r, row := range rows {
		if !row.IsHeader && row.Index == index {
			return r
		}
	}
	return -1
}

// SessionAt maps a clicked sidebar row back to a flat session index.
// Header rows return false.
func SessionAt(rows []Row, row int) (int, bool) {
	if row < 0 || row >= len(rows) || rows[row].IsHeader {
		return 0, false
	}
	return rows[row].Index, true
}

// FilterSessions returns the flat indices of sessions whose names
// fuzzy-match the query, best matches first. An empty query matches all,
// in order.
func FilterSessions(sessions []backend.SessionView, query string) []int {
	if query == "" {
		out := make([]int, len(sessions))
		for i := range sessions {
			out[i] = i
		}
		return out
	}
	names := make([]string, len(sessions))
	for i, s := range sessions {
		names[i] = s.Name
	}
	matches := fuzzy.Find(query, names)
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Index
	}
	return out
}
