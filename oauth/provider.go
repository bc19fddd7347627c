package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Provider ids as stored in social_logins.provider.
const (
	GitHub  = "github"
	Discord = "discord"
)

var (
	// ErrUpstream wraps provider transport, timeout and status failures.
	ErrUpstream = errors.New("oauth upstream failure")
	// ErrEmailMissing is returned when no email can be resolved for the profile.
	ErrEmailMissing = errors.New("oauth email missing")
	// ErrUnknownProvider is returned by [Registry.Lookup] for unregistered ids.
	ErrUnknownProvider = errors.New("oauth provider unknown")
)

// Identity is a provider profile normalized for reconciliation.
type Identity struct {
	Provider       string
	ProviderUserID string
	Email          string
	Verified       bool
	Bio            *string
	// Image is nil when the provider has no avatar; the caller generates one.
	Image *string
}

// Provider is the per-provider adapter used by the assertion grant.
type Provider interface {
	Name() string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (Identity, error)
	// ResolveEmail fills id.Email (and id.Verified) when the profile lacked one.
	ResolveEmail(ctx context.Context, accessToken string, id *Identity) error
}

// Authenticate runs the full provider exchange for code and returns an
// identity with a non-empty email.
func Authenticate(ctx context.Context, p Provider, code string) (Identity, error) {
	if strings.TrimSpace(code) == "" {
		return Identity{}, fmt.Errorf("%w: empty authorization code", ErrUpstream)
	}

	token, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return Identity{}, err
	}

	id, err := p.FetchProfile(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	id.Provider = p.Name()

	if id.Email == "" {
		if err := p.ResolveEmail(ctx, token, &id); err != nil {
			return Identity{}, err
		}
	}
	if id.Email == "" {
		return Identity{}, ErrEmailMissing
	}
	return id, nil
}

// Registry is a read-only lookup table of providers keyed by id.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by [Provider.Name]. Duplicate names are an error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("oauth: provider %q registered twice", name)
		}
		r.providers[name] = p
	}
	return r, nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Names lists registered provider ids in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const dicebearURL = "https://api.dicebear.com/9.x/thumbs/svg?backgroundColor=b6e3f4,c0aede,d1d4f9&seed="

// DefaultAvatar returns a generated avatar URL seeded by seed (normally the
// local user id).
func DefaultAvatar(seed string) string {
	return dicebearURL + url.QueryEscape(seed)
}
