// Package artifact implements the Artifact Store (C2): durable per-task
// JSON blobs (analysis notes, generated diffs, review verdicts) keyed by
// (owner, repo, item, kind), written atomically so a crash mid-write never
// leaves a caller reading a half-written file.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/miyabi-dev/miyabi/internal/errs"
)

// Kind is the closed set of artifact categories a task may produce.
type Kind string

const (
	KindAnalysis Kind = "analysis"
	KindDiff     Kind = "diff"
	KindReview   Kind = "review"
	KindPlan     Kind = "plan"
	KindTestLog  Kind = "test-log"
	KindAuditLog Kind = "audit-log"
)

// Record is the envelope persisted for every artifact: the raw payload
// plus the metadata needed to identify and age it out.
type Record struct {
	Owner     string          `json:"owner"`
	Repo      string          `json:"repo"`
	Item      int             `json:"item"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store is a filesystem-backed artifact store rooted at a base directory,
// one file per (owner, repo, item, kind).
type Store struct {
	baseDir string
}

// NewStore constructs a Store rooted at baseDir, creating it if absent.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "creating artifact store directory %s", baseDir)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(owner, repo string, item int, kind Kind) string {
	return filepath.Join(s.baseDir, owner, repo, fmt.Sprintf("%d-%s.json", item, kind))
}

// Save atomically persists payload under (owner, repo, item, kind),
// replacing any prior artifact of the same kind. It writes to a temp file
// in the same directory and renames over the destination so concurrent
// readers never observe a partial write.
func (s *Store) Save(owner, repo string, item int, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "marshaling artifact payload")
	}

	record := Record{Owner: owner, Repo: repo, Item: item, Kind: kind, Payload: raw, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "marshaling artifact record")
	}

	dest := s.path(owner, repo, item, kind)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "creating artifact directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "creating temp artifact file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodeInternal, err, "writing temp artifact file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodeInternal, err, "closing temp artifact file")
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodeInternal, err, "setting artifact file permissions")
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.CodeInternal, err, "renaming artifact into place")
	}
	return nil
}

// Load reads an artifact's payload into out. Returns a PRECONDITION_MISSING
// error if the artifact does not exist, matching the dispatcher's need to
// distinguish "not produced yet" from a genuine I/O failure.
func (s *Store) Load(owner, repo string, item int, kind Kind, out any) error {
	path := s.path(owner, repo, item, kind)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errs.New(errs.CodePreconditionMissing, "artifact %s not found for %s/%s#%d", kind, owner, repo, item).
			WithDetails(map[string]any{"kind": string(kind)})
	}
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "reading artifact file %s", path)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "unmarshaling artifact record")
	}
	if out != nil {
		if err := json.Unmarshal(record.Payload, out); err != nil {
			return errs.Wrap(errs.CodeInternal, err, "unmarshaling artifact payload")
		}
	}
	return nil
}

// Has reports whether an artifact exists for (owner, repo, item, kind),
// without loading it.
func (s *Store) Has(owner, repo string, item int, kind Kind) bool {
	_, err := os.Stat(s.path(owner, repo, item, kind))
	return err == nil
}

// Clear removes every artifact for (owner, repo, item), used when an item
// is reopened or re-dispatched from pending.
func (s *Store) Clear(owner, repo string, item int) error {
	dir := filepath.Join(s.baseDir, owner, repo)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "reading artifact directory %s", dir)
	}
	prefix := fmt.Sprintf("%d-", item)
	for _, e := range entries {
		if len(e.Name()) >= len(prefix) && e.Name()[:len(prefix)] == prefix {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return errs.Wrap(errs.CodeInternal, err, "removing artifact %s", e.Name())
			}
		}
	}
	return nil
}
