// Package git reads working-tree diff stats for the project pane.
package git

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DiffFile is one file's stats from `git diff --numstat` or the untracked
// listing.
type DiffFile struct {
	Path       string
	Insertions int
	Deletions  int
	Untracked  bool
}

// emptyTreeHash is git's well-known empty tree, used as the diff base in
// repositories with no commits yet.
const emptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// MaxDiffFiles bounds sort and render cost per tick.
const MaxDiffFiles = 200

const gitTimeout = 3 * time.Second

// DiffNumstat returns per-file diff stats for the working tree at cwd,
// including untracked files. Non-repositories and timeouts yield an empty
// slice.
func DiffNumstat(ctx context.Context, cwd string) []DiffFile {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	target := "HEAD"
	if err := exec.CommandContext(ctx, "git", "-C", cwd, "rev-parse", "--verify", "HEAD").Run(); err != nil {
		target = emptyTreeHash
	}

	var files []DiffFile
	if out, err := exec.CommandContext(ctx, "git", "-C", cwd, "diff", target, "--numstat").Output(); err == nil {
		files = ParseNumstat(string(out))
	}

	if out, err := exec.CommandContext(ctx, "git", "-C", cwd, "ls-files", "--others", "--exclude-standard").Output(); err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			path := strings.TrimSpace(line)
			if path != "" {
				files = append(files, DiffFile{Path: path, Untracked: true})
			}
		}
	}

	if len(files) > MaxDiffFiles {
		files = files[:MaxDiffFiles]
	}
	return files
}

// ParseNumstat parses `git diff --numstat` output. Each line is
// `<insertions>\t<deletions>\t<path>`; binary files show "-" counts and
// are skipped.
func ParseNumstat(out string) []DiffFile {
	var files []DiffFile
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 3 || parts[2] == "" {
			continue
		}
		ins, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		del, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		files = append(files, DiffFile{Path: parts[2], Insertions: ins, Deletions: del})
	}
	return files
}
