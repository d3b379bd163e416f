// Package prompts provides the embedded prompt templates with directory override support.
// Templates are loaded with resolution order:
// 1. Override: promptsDir/{name}.txt
// 2. Embedded default: templates/{name}.txt
package prompts

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
)

//go:embed templates/*.txt
var fs embed.FS

// Template names used by the pipeline
const (
	FindAndValidate   = "find_and_validate"
	ExtractAndCorrect = "extract_and_correct"
)

// Store loads prompt templates and caches them for the life of the process
type Store struct {
	dir    string
	logger arbor.ILogger

	mu    sync.RWMutex
	cache map[string]string
}

// NewStore creates a store. dir may be empty to use only the embedded templates.
func NewStore(dir string, logger arbor.ILogger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]string),
	}
}

// Preload reads every embedded template (and its override) into the cache
// and returns how many resolved to non-empty text
func (s *Store) Preload() int {
	names, err := ListEmbedded()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list embedded prompts")
		return 0
	}

	loaded := 0
	for _, name := range names {
		if s.Load(name) != "" {
			loaded++
		}
	}
	s.logger.Debug().Int("prompts", loaded).Str("override_dir", s.dir).Msg("Prompt templates loaded")
	return loaded
}

// Load returns the template text, or "" when no override or embedded template exists
func (s *Store) Load(name string) string {
	s.mu.RLock()
	text, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return text
	}

	text = s.read(name)

	s.mu.Lock()
	s.cache[name] = text
	s.mu.Unlock()
	return text
}

func (s *Store) read(name string) string {
	fileName := name + ".txt"

	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, fileName))
		if err == nil {
			s.logger.Debug().Str("prompt", name).Str("dir", s.dir).Msg("Using prompt override")
			return strings.TrimSpace(string(data))
		}
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("prompt", name).Msg("Failed to read prompt override, using embedded")
		}
	}

	data, err := fs.ReadFile("templates/" + fileName)
	if err != nil {
		s.logger.Error().Str("prompt", name).Msg("Prompt template not found")
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ListEmbedded returns the names of all embedded templates
func ListEmbedded() ([]string, error) {
	entries, err := fs.ReadDir("templates")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, strings.TrimSuffix(entry.Name(), ".txt"))
		}
	}
	return names, nil
}
