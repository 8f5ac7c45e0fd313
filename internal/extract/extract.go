// Package extract splits a model response into the files it declares.
//
// A file opens on a fence line such as "```file:pkg/mod.py" and closes on a
// bare "```" line. Everything outside an open file is ignored.
package extract

import (
	"strings"

	"github.com/vollocare/autocoder/internal/tools"
)

// State is the scanner state between lines.
type State int

const (
	NoFileOpen State = iota
	FileOpen
)

func (s State) String() string {
	if s == FileOpen {
		return "file_open"
	}
	return "no_file_open"
}

const closingFence = "```"

// OpenMarkers are the fence prefixes that start a file block.
var OpenMarkers = []string{"```file:", "```python:", "```filepath:"}

type scanner struct {
	state State
	path  string
	lines []string
	index map[string]int
	files []tools.File
}

// Extract returns the files declared in response in order of first appearance.
// A path declared twice keeps its first position and its last content.
// Line endings are not normalized.
func Extract(response string) []tools.File {
	s := &scanner{index: make(map[string]int)}
	for _, line := range splitLines(response) {
		s.feed(line)
	}
	if s.state == FileOpen && len(s.lines) > 0 {
		s.flush()
	}
	return s.files
}

func (s *scanner) feed(line string) {
	if path, ok := openMarker(line); ok {
		if s.state == FileOpen && len(s.lines) > 0 {
			s.flush()
		}
		s.lines = s.lines[:0]
		if path == "" {
			s.state = NoFileOpen
			s.path = ""
			return
		}
		s.state = FileOpen
		s.path = path
		return
	}

	if s.state != FileOpen {
		return
	}
	if strings.TrimSpace(line) == closingFence {
		s.flush()
		s.state = NoFileOpen
		s.path = ""
		s.lines = s.lines[:0]
		return
	}
	s.lines = append(s.lines, line)
}

func (s *scanner) flush() {
	content := strings.Join(s.lines, "\n")
	if i, ok := s.index[s.path]; ok {
		s.files[i].Content = content
		return
	}
	s.index[s.path] = len(s.files)
	s.files = append(s.files, tools.File{Path: s.path, Content: content})
}

func openMarker(line string) (string, bool) {
	for _, marker := range OpenMarkers {
		if strings.HasPrefix(line, marker) {
			_, rest, _ := strings.Cut(line, ":")
			path := strings.TrimSpace(rest)
			path = strings.TrimRight(path, "`")
			return strings.TrimSpace(path), true
		}
	}
	return "", false
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
