package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// GuidanceFile is the companion artifact telling the downstream executor
// where the backlog lives and how task files are laid out.
const GuidanceFile = "BACKLOG.md"

// Store persists backlogs under <workspace>/backlog/<feature>/ as one JSON
// file per task, named NNN-slug.json in backlog order.
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// OpenStore creates or reopens the backlog store for a workspace.
func OpenStore(workspace string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(workspace, "backlog")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backlog directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save persists the full backlog for a feature and refreshes the guidance
// artifact. Existing task files for the feature are replaced.
func (s *Store) Save(b *Backlog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	featureDir := filepath.Join(s.dir, b.Feature)
	if err := os.RemoveAll(featureDir); err != nil {
		return fmt.Errorf("clear feature backlog %s: %w", b.Feature, err)
	}
	if err := os.MkdirAll(featureDir, 0o755); err != nil {
		return fmt.Errorf("create feature backlog %s: %w", b.Feature, err)
	}

	for i, task := range b.Tasks {
		data, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", task.ID, err)
		}
		name := fmt.Sprintf("%03d-%s.json", i+1, slug(task.Objective))
		if err := os.WriteFile(filepath.Join(featureDir, name), data, 0o644); err != nil {
			return fmt.Errorf("write task %s: %w", task.ID, err)
		}
	}

	if err := s.writeGuidance(); err != nil {
		return err
	}
	s.logger.Debug("backlog saved",
		zap.String("feature", b.Feature),
		zap.Int("tasks", len(b.Tasks)))
	return nil
}

// Load reads a feature's backlog in task-file order.
func (s *Store) Load(feature string) (*Backlog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	featureDir := filepath.Join(s.dir, feature)
	entries, err := os.ReadDir(featureDir)
	if err != nil {
		return nil, fmt.Errorf("read feature backlog %s: %w", feature, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	b := &Backlog{Feature: feature}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(featureDir, name))
		if err != nil {
			return nil, fmt.Errorf("read task file %s: %w", name, err)
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("parse task file %s: %w", name, err)
		}
		b.Tasks = append(b.Tasks, &task)
	}
	return b, nil
}

// Features lists features with a persisted backlog, sorted.
func (s *Store) Features() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read backlog directory: %w", err)
	}
	var features []string
	for _, entry := range entries {
		if entry.IsDir() {
			features = append(features, entry.Name())
		}
	}
	sort.Strings(features)
	return features, nil
}

// writeGuidance regenerates the BACKLOG.md artifact for the executor.
func (s *Store) writeGuidance() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read backlog directory: %w", err)
	}
	var features []string
	for _, entry := range entries {
		if entry.IsDir() {
			features = append(features, entry.Name())
		}
	}
	sort.Strings(features)

	var b strings.Builder
	b.WriteString("# Backlog\n\n")
	b.WriteString("Task files live under backlog/<feature>/ as NNN-slug.json, one file\n")
	b.WriteString("per task, numbered in execution order. Tasks listing other task IDs in\n")
	b.WriteString("depends_on must not start before those tasks are done. Task status is\n")
	b.WriteString("authoritative in the JSON files.\n\n")
	b.WriteString("## Features\n\n")
	for _, f := range features {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	if err := os.WriteFile(filepath.Join(s.dir, GuidanceFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write guidance artifact: %w", err)
	}
	return nil
}

// slug reduces an objective to a filesystem-safe name fragment.
func slug(objective string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(objective) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	if len(out) > 48 {
		out = out[:48]
	}
	if out == "" {
		out = "task"
	}
	return out
}
