package router

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ragdesk/ragdesk/pkg/config"
	"github.com/ragdesk/ragdesk/pkg/models"
)

// ErrModelNotAllowed is returned for a model outside the configured allow-list.
var ErrModelNotAllowed = errors.New("model not allowed")

// Modality selects which model settings apply.
type Modality int

const (
	Text Modality = iota
	Image
)

func (m Modality) String() string {
	if m == Image {
		return "image"
	}
	return "text"
}

// Router resolves requested model names against the configured defaults and
// allow-lists.
type Router struct {
	cfg config.ModelsConfig
}

// New creates a Router from the given model settings.
func New(cfg config.ModelsConfig) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns the model to use for a request. An empty request selects
// the modality default. An empty allow-list accepts any model.
func (r *Router) Resolve(m Modality, requested string) (string, error) {
	def, allowed := r.cfg.DefaultText, r.cfg.AllowedText
	if m == Image {
		def, allowed = r.cfg.DefaultImage, r.cfg.AllowedImage
	}

	model := strings.TrimSpace(requested)
	if model == "" {
		model = def
	}
	if model == "" {
		return "", fmt.Errorf("no %s model requested and no default configured", m)
	}
	// The separator would make persisted cache keys ambiguous.
	if strings.Contains(model, models.CacheKeySeparator) {
		return "", fmt.Errorf("%w: %q contains %q", ErrModelNotAllowed, model, models.CacheKeySeparator)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, model) {
		return "", fmt.Errorf("%w: %q is not an allowed %s model", ErrModelNotAllowed, model, m)
	}
	return model, nil
}

// Allowed returns the allow-list for a modality, or nil if any model is accepted.
func (r *Router) Allowed(m Modality) []string {
	if m == Image {
		return r.cfg.AllowedImage
	}
	return r.cfg.AllowedText
}
