package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"groundwork-mcp-server/internal/failure"
)

// FileStore keeps mappings in memory and rewrites a JSON file on every learn.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	origins map[string]map[string]Signature
}

// NewFileStore loads path if it exists. An empty path keeps the store in memory only.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		path:    path,
		logger:  logger,
		origins: make(map[string]map[string]Signature),
	}
	if err := s.load(); err != nil {
		return nil, failure.Persistence("load learned mappings", err)
	}
	return s, nil
}

func (s *FileStore) Learn(ctx context.Context, origin, phrase string, sig Signature) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := NormalizePhrase(phrase)
	if key == "" {
		return errors.New("phrase is required")
	}
	origin = Origin(origin)

	s.mu.Lock()
	byPhrase, ok := s.origins[origin]
	if !ok {
		byPhrase = make(map[string]Signature)
		s.origins[origin] = byPhrase
	}
	byPhrase[key] = sig
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return failure.Persistence("save learned mappings", err)
	}
	s.logger.Debug("learned mapping", zap.String("origin", origin), zap.String("phrase", key), zap.String("tag", sig.Tag))
	return nil
}

func (s *FileStore) Recall(ctx context.Context, origin, phrase string) (Signature, bool, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, false, err
	}
	key := NormalizePhrase(phrase)
	if key == "" {
		return Signature{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	byPhrase := s.origins[Origin(origin)]
	if len(byPhrase) == 0 {
		return Signature{}, false, nil
	}
	keys := make([]string, 0, len(byPhrase))
	for k := range byPhrase {
		keys = append(keys, k)
	}
	k, ok := bestKey(keys, key)
	if !ok {
		return Signature{}, false, nil
	}
	return byPhrase[k], true, nil
}

// Mappings returns every stored mapping for origin.
func (s *FileStore) Mappings(origin string) []Mapping {
	origin = Origin(origin)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mapping, 0, len(s.origins[origin]))
	for phrase, sig := range s.origins[origin] {
		out = append(out, Mapping{Origin: origin, Phrase: phrase, Signature: sig})
	}
	return out
}

func (s *FileStore) persist() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	var mappings []Mapping
	for origin, byPhrase := range s.origins {
		for phrase, sig := range byPhrase {
			mappings = append(mappings, Mapping{Origin: origin, Phrase: phrase, Signature: sig})
		}
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(mappings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var mappings []Mapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	for _, m := range mappings {
		byPhrase, ok := s.origins[m.Origin]
		if !ok {
			byPhrase = make(map[string]Signature)
			s.origins[m.Origin] = byPhrase
		}
		byPhrase[m.Phrase] = m.Signature
	}
	return nil
}
