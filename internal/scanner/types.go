// Package scanner provides project analysis functionality for detecting
// language, build systems, and project structure. Its output feeds two
// consumers downstream: the AGENT.md scaffold generator
// (internal/agentmd) and, once persisted by `miyabi init` to
// projectInfoFile, the Agent Dispatcher (C8), which runs the detected
// TestCommands for the Test agent kind instead of treating it as a
// structured no-op.
package scanner

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// projectInfoFile is where `miyabi init` persists a ProjectInfo so that
// later `agent run`/`auto` invocations in the same working directory can
// recover it without rescanning the tree.
const projectInfoFile = ".miyabi/project.json"

// LanguageInfo contains information about a detected programming language.
type LanguageInfo struct {
	Name       string   `json:"name"`
	FileCount  int      `json:"file_count"`
	Percentage float64  `json:"percentage"`
	Extensions []string `json:"extensions"`
}

// ProjectStructure contains information about the project's directory layout.
type ProjectStructure struct {
	SourceDirs  []string `json:"source_dirs"`
	TestDirs    []string `json:"test_dirs"`
	ConfigFiles []string `json:"config_files"`
	EntryPoints []string `json:"entry_points"`
	HasDocker   bool     `json:"has_docker"`
	HasCI       bool     `json:"has_ci"`
	CISystem    string   `json:"ci_system,omitempty"`
}

// ProjectInfo contains all detected information about a project.
type ProjectInfo struct {
	Name          string           `json:"name"`
	Languages     []LanguageInfo   `json:"languages"`
	BuildSystem   string           `json:"build_system"`
	BuildCommands []string         `json:"build_commands"`
	TestCommands  []string         `json:"test_commands"`
	LintCommands  []string         `json:"lint_commands"`
	Structure     ProjectStructure `json:"structure"`
	Dependencies  []string         `json:"dependencies"`
	Framework     string           `json:"framework,omitempty"`
}

// Save persists info to <workDir>/projectInfoFile so a later dispatch can
// recover the detected build/test/lint commands without rescanning.
func (info *ProjectInfo) Save(workDir string) error {
	path := filepath.Join(workDir, projectInfoFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadProjectInfo recovers a ProjectInfo previously saved by Save. It
// returns (nil, nil) when no project info has been saved yet, so callers
// can treat an un-initialized working directory as "no hints available"
// rather than an error.
func LoadProjectInfo(workDir string) (*ProjectInfo, error) {
	data, err := os.ReadFile(filepath.Join(workDir, projectInfoFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info ProjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FirstTestCommand returns the command the Agent Dispatcher should run
// for the Test agent kind, if build-system detection found one. When the
// dispatched task carries a monorepo packagePath, the command is narrowed
// to that package (e.g. "go test ./packages/api/..." instead of
// "go test ./...") rather than running the whole repository's suite for a
// single-package change.
func (info *ProjectInfo) FirstTestCommand(packagePath string) (string, bool) {
	if info == nil || len(info.TestCommands) == 0 {
		return "", false
	}
	return scopeTestCommand(info.BuildSystem, info.TestCommands[0], packagePath), true
}
