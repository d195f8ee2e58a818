// Package provider implements external identity providers (Google, GitHub,
// Facebook) behind one interface. Each provider normalizes its upstream
// profile at its own boundary; nothing downstream branches on which provider
// produced an identity.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"passage/cmd/identity"
)

var (
	// ErrUnknownProvider reports a provider name nothing is registered for.
	ErrUnknownProvider = errors.New("provider: unknown provider")

	// ErrUpstream reports a failed exchange or profile fetch.
	ErrUpstream = errors.New("provider: upstream error")

	// ErrEmailMissing reports an upstream profile that carries no usable
	// email address. Identities without email cannot be resolved.
	ErrEmailMissing = errors.New("provider: email missing")
)

// Config is the per-provider OAuth client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c Config) validate(name string) error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("provider %s: client id and secret are required", name)
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		return fmt.Errorf("provider %s: redirect url is required", name)
	}
	return nil
}

// IdentityProvider is one external login backend.
type IdentityProvider interface {
	// Name is the stable lowercase provider name ("google", "github", ...).
	Name() string

	// AuthCodeURL builds the upstream consent URL for a state value.
	AuthCodeURL(state string) string

	// Identity exchanges an authorization code and fetches the upstream
	// profile, normalized. A profile without email yields ErrEmailMissing.
	Identity(ctx context.Context, code string) (identity.NormalizedIdentity, error)
}

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]IdentityProvider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]IdentityProvider)}
}

// Register adds or replaces a provider by name.
func (r *Registry) Register(p IdentityProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Get looks a provider up by name.
func (r *Registry) Get(name string) (IdentityProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fetchJSON gets url with the token-bearing client and decodes the body into
// out. Non-2xx responses become ErrUpstream.
func fetchJSON(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, url string, out any) error {
	client := cfg.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return decodeJSONBody(resp.Body, out)
}

func exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", ErrUpstream, err)
	}
	return tok, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
