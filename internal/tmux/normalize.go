package tmux

import "strings"

// NormalizeCapture reduces captured pane content to its stable text so that
// cosmetic animation never reads as activity. It strips ANSI escape
// sequences, braille spinner cells (U+2800-U+28FF), the asterisk spinner
// glyphs agent CLIs cycle through, ASCII digits (elapsed counters and token
// tallies), the throughput arrows, and trailing whitespace per line.
// Idempotent: normalizing a normalized capture is a no-op.
func NormalizeCapture(content string) string {
	stripped := StripANSI(content)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, ch := range stripped {
		if ch >= '\u2800' && ch <= '\u28ff' {
			continue
		}
		if ch >= '0' && ch <= '9' {
			continue
		}
		switch ch {
		case '✢', '✳', '✶', '✻', '✽', '↑', '↓':
			continue
		}
		b.WriteRune(ch)
	}

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

// StripANSI removes ANSI escape sequences in a single pass. Regex is
// avoided: malformed sequences can make complex ANSI patterns backtrack
// catastrophically, and capture content is attacker-ish input.
func StripANSI(content string) string {
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9b') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		if content[i] == '\x1b' {
			// CSI sequence: ESC [ ... letter
			if i+1 < len(content) && content[i+1] == '[' {
				j := i + 2
				for j < len(content) {
					c := content[j]
					j++
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						break
					}
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL or ST
			if i+1 < len(content) && content[i+1] == ']' {
				if bell := strings.Index(content[i:], "\x07"); bell != -1 {
					i += bell + 1
					continue
				}
				if st := strings.Index(content[i:], "\x1b\\"); st != -1 {
					i += st + 2
					continue
				}
			}
			// Bare ESC plus one char
			if i+1 < len(content) {
				i += 2
				continue
			}
			i++
			continue
		}
		// 8-bit CSI (0x9B)
		if content[i] == '\x9b' {
			j := i + 1
			for j < len(content) {
				c := content[j]
				j++
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
					break
				}
			}
			i = j
			continue
		}
		b.WriteByte(content[i])
		i++
	}

	return b.String()
}
