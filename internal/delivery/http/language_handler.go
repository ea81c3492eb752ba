package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Harsh-BH/gauntlet/internal/sandbox"
	"github.com/Harsh-BH/gauntlet/internal/wrapper"
)

// Catalog lists the languages the sandbox can run.
type Catalog interface {
	Lookup(language string) (*sandbox.Profile, bool)
	Languages() []string
}

// LanguageInfo describes one runnable language.
type LanguageInfo struct {
	Name     string            `json:"name"`
	Compiled bool              `json:"compiled"`
	Timeout  string            `json:"timeout"`
	Wrapper  *wrapper.Metadata `json:"wrapper,omitempty"`
}

// LanguageHandler handles language listing requests.
type LanguageHandler struct {
	catalog  Catalog
	wrappers *wrapper.Registry
}

// NewLanguageHandler creates a new LanguageHandler. wrappers may be nil.
func NewLanguageHandler(catalog Catalog, wrappers *wrapper.Registry) *LanguageHandler {
	return &LanguageHandler{catalog: catalog, wrappers: wrappers}
}

// List handles GET /api/v1/languages
func (h *LanguageHandler) List(c *gin.Context) {
	names := h.catalog.Languages()
	languages := make([]LanguageInfo, 0, len(names))
	for _, name := range names {
		p, ok := h.catalog.Lookup(name)
		if !ok {
			continue
		}
		info := LanguageInfo{Name: name, Timeout: p.Timeout.String()}
		_, info.Compiled = p.Command.(sandbox.Compiled)
		if h.wrappers != nil {
			if meta, ok := h.wrappers.Metadata(name); ok {
				info.Wrapper = &meta
			}
		}
		languages = append(languages, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"languages": languages,
	})
}
