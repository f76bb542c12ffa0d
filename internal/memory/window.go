package memory

import "whatsbot/internal/domain"

// DefaultWindow is the number of turns retained per user when no window is configured.
const DefaultWindow = 10

// trimBounds decides which turns survive a window. The result keeps
// turns[start:], plus turns[0] when pinned is true.
func trimBounds(turns []domain.Turn, window int, pinSystem bool) (pinned bool, start int) {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(turns) <= window {
		return false, 0
	}
	if pinSystem && window > 1 && turns[0].Role == domain.RoleSystem {
		return true, len(turns) - (window - 1)
	}
	return false, len(turns) - window
}

// Trim returns the most recent window turns as a new slice. With pinSystem a
// leading system turn survives trimming and occupies one slot of the window.
func Trim(turns []domain.Turn, window int, pinSystem bool) []domain.Turn {
	pinned, start := trimBounds(turns, window, pinSystem)
	out := make([]domain.Turn, 0, len(turns)-start+1)
	if pinned {
		out = append(out, turns[0])
	}
	return append(out, turns[start:]...)
}
