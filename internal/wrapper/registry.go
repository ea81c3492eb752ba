package wrapper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

// WrapFunc turns a bare function into a standalone program that reads a JSON
// argument array from stdin and prints the result as compact JSON.
type WrapFunc func(code string) (string, error)

// Metadata describes a registered wrapper.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

type registration struct {
	languages []string
	wrap      WrapFunc
	meta      Metadata
}

// Registry maps languages to wrappers. It is built once at startup, sealed,
// and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	wrappers map[string]*registration
	sealed   bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{wrappers: make(map[string]*registration)}
}

func normalize(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// Register adds fn for every language in languages.
func (r *Registry) Register(languages []string, fn WrapFunc, meta Metadata) error {
	if fn == nil {
		return errors.New("wrap function is nil")
	}
	if len(languages) == 0 {
		return errors.New("at least one language is required")
	}
	reg := &registration{wrap: fn, meta: meta}
	for _, l := range languages {
		l = normalize(l)
		if l == "" {
			return errors.New("empty language name")
		}
		reg.languages = append(reg.languages, l)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return domain.ErrRegistrySealed
	}
	for _, l := range reg.languages {
		if existing, ok := r.wrappers[l]; ok {
			return fmt.Errorf("language %q already handled by %q", l, existing.meta.Name)
		}
	}
	for _, l := range reg.languages {
		r.wrappers[l] = reg
	}
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// WrapCode applies the wrapper registered for language.
func (r *Registry) WrapCode(language, code string) (string, error) {
	r.mu.RLock()
	reg, ok := r.wrappers[normalize(language)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w for %q (available: %s)", domain.ErrNoWrapper, language, strings.Join(r.RegisteredLanguages(), ", "))
	}
	return reg.wrap(code)
}

func (r *Registry) HasWrapper(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.wrappers[normalize(language)]
	return ok
}

// RegisteredLanguages returns every language with a wrapper, sorted.
func (r *Registry) RegisteredLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.wrappers))
	for l := range r.wrappers {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Metadata(language string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.wrappers[normalize(language)]
	if !ok {
		return Metadata{}, false
	}
	return reg.meta, true
}
