package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ErrTemplateNotFound is returned when no training template exists for a sample type.
var ErrTemplateNotFound = errors.New("training template not found")

const preambleFile = "system.prompt.preamble"

// Loader reads templates from a prompts directory and caches them per (name, provider).
type Loader struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*Template),
	}
}

// Load returns the training template for a sample type, preferring a
// provider-specific variant. The runtime prompt is only required when the
// training text references RuntimePlaceholder.
func (l *Loader) Load(name, provider string) (*Template, error) {
	key := name + "\x00" + provider
	l.mu.RLock()
	cached, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	candidates := []string{name + ".prompt.train"}
	if provider != "" {
		candidates = append([]string{name + ".prompt.train." + provider}, candidates...)
	}
	train, source, err := l.readFirst(candidates)
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("%w: %s in %s", ErrTemplateNotFound, name, l.dir)
	}

	tmpl := &Template{Name: name, Source: source, Text: train}

	if slices.Contains(ExtractVariables(train), "TEMPLATE_PROMPTS_RUNTIME") {
		run, runSource, err := l.readFirst([]string{name + ".prompt.run", preambleFile})
		if err != nil {
			return nil, err
		}
		if runSource == "" {
			return nil, fmt.Errorf("%w: no %s.prompt.run or %s for %s", ErrTemplateNotFound, name, preambleFile, name)
		}
		tmpl.RunSource = runSource
		tmpl.Text = replaceAll(train, RuntimePlaceholder, EscapeNewlines(run))
	}

	tmpl.Variables = ExtractVariables(tmpl.Text)
	tmpl.Hash = HashText(tmpl.Text)
	if !slices.Contains(tmpl.Variables, "DEVICE_STRUCTURE") {
		l.logger.Warn("template has no device placeholder", "type", name, "path", source)
	}
	l.logger.Debug("loaded template", "type", name, "provider", provider, "path", source, "hash", tmpl.Hash[:12])

	l.mu.Lock()
	l.cache[key] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}

// readFirst returns the content and path of the first existing file.
// A missing file is not an error; the returned path is empty when none exist.
func (l *Loader) readFirst(names []string) (string, string, error) {
	for _, n := range names {
		path := filepath.Join(l.dir, n)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), path, nil
	}
	return "", "", nil
}
