package platform

import (
	"context"
	"fmt"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/signature"
	"github.com/clubops/membersync/common/syncerr"
)

// Entity is the canonical form a platform-side record is reduced to
// before reconciliation. Raw keeps the untouched platform payload for
// the integration snapshot.
type Entity struct {
	ExternalID  string
	Email       string
	FirstName   string
	LastName    string
	AmountCents int
	Raw         []byte
}

// Page is one page of remote entities from a bulk fetch
type Page struct {
	Entities []Entity
	HasMore  bool
}

// Fetcher performs authenticated HTTP GETs against a platform API
type Fetcher interface {
	GetJSON(ctx context.Context, platform string, url string, out interface{}) error
}

// Adapter is one platform integration. Adding a platform means
// registering an adapter, not editing a central switch.
type Adapter interface {
	// Name returns the platform key
	Name() models.Platform

	// SignatureScheme describes the platform's webhook signature format
	SignatureScheme() signature.Scheme

	// ParseWebhook reduces a raw webhook payload to a canonical entity
	ParseWebhook(payload []byte) (Entity, error)

	// FetchPage retrieves one page of remote entities for bulk sync.
	// scope carries optional narrowing such as a campaign or org id.
	FetchPage(ctx context.Context, fetcher Fetcher, cfg config.PlatformConfig, scope map[string]string, page int) (Page, error)
}

// Registry maps platform keys to adapters
type Registry struct {
	adapters map[models.Platform]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[models.Platform]Adapter),
	}
}

// Register adds an adapter. Duplicate registration is a programmer error.
func (r *Registry) Register(adapter Adapter) error {
	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter already registered for platform %s", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Lookup returns the adapter for a platform key
func (r *Registry) Lookup(platform models.Platform) (Adapter, error) {
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform %q: %w", platform, syncerr.ErrUnknownPlatform)
	}
	return adapter, nil
}

// Platforms returns the registered platform keys
func (r *Registry) Platforms() []models.Platform {
	names := make([]models.Platform, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// SignatureSchemes collects the per-platform signature table for the
// verifier.
func (r *Registry) SignatureSchemes() map[string]signature.Scheme {
	schemes := make(map[string]signature.Scheme, len(r.adapters))
	for name, adapter := range r.adapters {
		schemes[string(name)] = adapter.SignatureScheme()
	}
	return schemes
}

// DefaultRegistry builds the registry with the four built-in adapters.
// The built-in set is fixed at compile time, so a registration failure
// is a programmer error and panics at startup.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, adapter := range []Adapter{
		NewTicketingAdapter(),
		NewPatronageAdapter(),
		NewMailerAdapter(),
		NewChatAdapter(),
	} {
		if err := r.Register(adapter); err != nil {
			panic(err)
		}
	}
	return r
}
