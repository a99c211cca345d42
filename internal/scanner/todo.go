package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// TodoMarker is one TODO/FIXME comment found in source, surfaced by the
// `miyabi todos` CLI command.
type TodoMarker struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Marker  string `json:"marker"` // "TODO" or "FIXME"
	Message string `json:"message"`
}

var todoPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME)\b:?\s*(.*)`)

// sourceExtensions limits the TODO scan to source files, mirroring the
// language-detection extension set Scan() already builds from.
var sourceExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".rs": true, ".java": true, ".c": true, ".cc": true, ".cpp": true, ".h": true,
}

// ScanTodos walks rootDir for TODO/FIXME comments in source files, reusing
// the same directory-skip rules as Scan().
func (s *Scanner) ScanTodos() ([]TodoMarker, error) {
	var markers []TodoMarker

	err := filepath.Walk(s.rootDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() {
			name := fi.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" ||
				name == ".venv" || name == "__pycache__" || name == "dist" ||
				name == "build" || name == "target" || name == ".next" || name == ".worktrees" {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(s.rootDir, path)
		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			m := todoPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			markers = append(markers, TodoMarker{
				File: rel, Line: lineNum, Marker: strings.ToUpper(m[1]), Message: strings.TrimSpace(m[2]),
			})
		}
		return nil
	})
	return markers, err
}
