package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/grader/internal/plagiarism"
)

const (
	dirModelAnswers = "model_answers"
	dirRubrics      = "rubrics"
	dirPeerAnswers  = "peer_answers"

	peerAnswerInfix = "_peer_answer_"
	jsonExt         = ".json"
)

// FSOptions configures the filesystem store.
type FSOptions struct {
	Dir string `mapstructure:"dir"`
}

// FS keeps every text as a small JSON file under Dir.
type FS struct {
	dir    string
	logger *zap.Logger

	mu sync.Mutex
}

// NewFS returns a filesystem store rooted at opts.Dir, "data" by default.
func NewFS(opts FSOptions, log *zap.Logger) *FS {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = "data"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FS{dir: dir, logger: log}
}

func (s *FS) Init(context.Context) error {
	for _, sub := range []string{dirModelAnswers, dirRubrics, dirPeerAnswers} {
		if err := os.MkdirAll(filepath.Join(s.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	s.logger.Debug("filesystem store ready", zap.String("dir", s.dir))
	return nil
}

func (s *FS) SaveModelAnswer(_ context.Context, assignmentID, content string) error {
	return s.saveReference(KindModelAnswer, assignmentID, content)
}

func (s *FS) ModelAnswer(_ context.Context, assignmentID string) (string, error) {
	return s.loadReference(KindModelAnswer, assignmentID)
}

func (s *FS) SaveRubric(_ context.Context, assignmentID, content string) error {
	return s.saveReference(KindRubric, assignmentID, content)
}

func (s *FS) Rubric(_ context.Context, assignmentID string) (string, error) {
	return s.loadReference(KindRubric, assignmentID)
}

func (s *FS) AppendPeerAnswer(_ context.Context, assignmentID, peerID, content string) error {
	if err := ValidateID(assignmentID); err != nil {
		return err
	}
	if err := ValidateID(peerID); err != nil {
		return err
	}

	path := filepath.Join(s.dir, dirPeerAnswers, assignmentID+peerAnswerInfix+peerID+jsonExt)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("peer answer %s/%s: %w", assignmentID, peerID, ErrExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check peer answer: %w", err)
	}

	if err := writeRecord(path, record{Content: content, CreatedAt: now()}); err != nil {
		return err
	}

	s.logger.Debug("peer answer stored",
		zap.String("assignment_id", assignmentID),
		zap.String("peer_id", peerID),
	)
	return nil
}

func (s *FS) PeerAnswers(_ context.Context, assignmentID string) ([]plagiarism.Document, error) {
	if err := ValidateID(assignmentID); err != nil {
		return nil, err
	}

	prefix := assignmentID + peerAnswerInfix
	entries, err := os.ReadDir(filepath.Join(s.dir, dirPeerAnswers))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []plagiarism.Document{}, nil
		}
		return nil, fmt.Errorf("list peer answers: %w", err)
	}

	type stored struct {
		doc plagiarism.Document
		rec record
	}

	found := make([]stored, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, jsonExt) {
			continue
		}

		path := filepath.Join(s.dir, dirPeerAnswers, name)
		rec, err := readRecord(path)
		if err != nil {
			s.logger.Warn("skipping unreadable peer answer",
				zap.String("assignment_id", assignmentID),
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}

		peerID := strings.TrimSuffix(strings.TrimPrefix(name, prefix), jsonExt)
		found = append(found, stored{doc: plagiarism.Document{ID: peerID, Text: rec.Content}, rec: rec})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].rec.CreatedAt.Equal(found[j].rec.CreatedAt) {
			return found[i].doc.ID < found[j].doc.ID
		}
		return found[i].rec.CreatedAt.Before(found[j].rec.CreatedAt)
	})

	docs := make([]plagiarism.Document, 0, len(found))
	for _, item := range found {
		docs = append(docs, item.doc)
	}
	return docs, nil
}

func (s *FS) Assignments(context.Context) ([]string, error) {
	ids := make(map[string]struct{})

	collect := func(sub string, parse func(name string) (string, bool)) error {
		entries, err := os.ReadDir(filepath.Join(s.dir, sub))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("list %s: %w", sub, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if id, ok := parse(entry.Name()); ok {
				ids[id] = struct{}{}
			}
		}
		return nil
	}

	suffixed := func(kind Kind) func(string) (string, bool) {
		suffix := "_" + string(kind) + jsonExt
		return func(name string) (string, bool) {
			if !strings.HasSuffix(name, suffix) {
				return "", false
			}
			return strings.TrimSuffix(name, suffix), true
		}
	}

	peer := func(name string) (string, bool) {
		idx := strings.Index(name, peerAnswerInfix)
		if idx <= 0 || !strings.HasSuffix(name, jsonExt) {
			return "", false
		}
		return name[:idx], true
	}

	if err := collect(dirModelAnswers, suffixed(KindModelAnswer)); err != nil {
		return nil, err
	}
	if err := collect(dirRubrics, suffixed(KindRubric)); err != nil {
		return nil, err
	}
	if err := collect(dirPeerAnswers, peer); err != nil {
		return nil, err
	}

	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

func (s *FS) Close() error { return nil }

func (s *FS) referencePath(kind Kind, assignmentID string) string {
	sub := dirModelAnswers
	if kind == KindRubric {
		sub = dirRubrics
	}
	return filepath.Join(s.dir, sub, assignmentID+"_"+string(kind)+jsonExt)
}

func (s *FS) saveReference(kind Kind, assignmentID, content string) error {
	if err := ValidateID(assignmentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeRecord(s.referencePath(kind, assignmentID), record{Content: content, CreatedAt: now()})
}

func (s *FS) loadReference(kind Kind, assignmentID string) (string, error) {
	if err := ValidateID(assignmentID); err != nil {
		return "", err
	}

	rec, err := readRecord(s.referencePath(kind, assignmentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s for %s: %w", kind, assignmentID, ErrNotFound)
		}
		return "", err
	}
	return rec.Content, nil
}

func readRecord(path string) (record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, fmt.Errorf("read %s: %w", path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

// writeRecord replaces path atomically so readers never observe a partial file.
func writeRecord(path string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	return nil
}
