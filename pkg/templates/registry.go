package templates

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/emirks/tercihify-chat/pkg/errors"
)

//go:embed assets/**/*.tmpl
var embeddedFS embed.FS

// SummaryPrompt is the recap prompt sent to the auxiliary model
const SummaryPrompt = "conversation/summary"

// SummaryPromptData feeds SummaryPrompt
type SummaryPromptData struct {
	MaxWords   int
	Transcript string
}

// Template is a parsed prompt template
type Template struct {
	ID      string
	Path    string
	Content string

	parsed *template.Template
}

// Render executes the template with the provided data
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.parsed.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render template %s", t.ID)
	}
	return buf.String(), nil
}

// Registry holds loaded templates keyed by their path without extension
type Registry struct {
	fs        fs.FS
	templates map[string]*Template
	mu        sync.RWMutex
}

// NewRegistry loads all templates under basePath. Overrides for the embedded prompts
// can be shipped this way without a rebuild.
func NewRegistry(basePath string) (*Registry, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errors.Wrap(err, "resolve template base path")
	}
	return NewRegistryFromFS(os.DirFS(absBase))
}

// NewRegistryFromFS constructs a registry from an arbitrary filesystem
func NewRegistryFromFS(filesystem fs.FS) (*Registry, error) {
	r := &Registry{
		fs:        filesystem,
		templates: map[string]*Template{},
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the default registry over the embedded assets
func Get() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = newEmbeddedRegistry()
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultRegistry
}

// GetTemplate retrieves a template by ID, loading it lazily if it appeared after startup
func (r *Registry) GetTemplate(id string) (*Template, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[id]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	path := id + ".tmpl"
	if _, err := fs.Stat(r.fs, path); err == nil {
		if err := r.loadTemplate(path); err != nil {
			return nil, err
		}
		r.mu.RLock()
		tmpl = r.templates[id]
		r.mu.RUnlock()
		if tmpl != nil {
			return tmpl, nil
		}
	}

	return nil, errors.Wrapf(errors.ErrNotFound, "template %s", id)
}

// Render executes a template by ID
func (r *Registry) Render(id string, data any) (string, error) {
	tmpl, err := r.GetTemplate(id)
	if err != nil {
		return "", err
	}
	return tmpl.Render(data)
}

// List returns all known template IDs, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) loadAll() error {
	return fs.WalkDir(r.fs, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".tmpl" {
			return nil
		}
		return r.loadTemplate(path)
	})
}

func (r *Registry) loadTemplate(path string) error {
	id := strings.TrimSuffix(filepath.ToSlash(path), ".tmpl")
	content, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return errors.Wrapf(err, "read template %s", id)
	}

	parsed, err := template.New(id).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return errors.Wrapf(err, "parse template %s", id)
	}

	r.mu.Lock()
	r.templates[id] = &Template{
		ID:      id,
		Path:    path,
		Content: string(content),
		parsed:  parsed,
	}
	r.mu.Unlock()
	return nil
}

func newEmbeddedRegistry() (*Registry, error) {
	subFS, err := fs.Sub(embeddedFS, "assets")
	if err != nil {
		return nil, errors.Wrap(err, "prepare embedded templates")
	}
	return NewRegistryFromFS(subFS)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)
