// Package credentials turns a model configuration into the effective
// endpoint and API key for an upstream dispatch.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"modelgate/internal/catalog"
	"modelgate/internal/config"
	"modelgate/internal/models"
)

// ErrUnresolvable indicates no credential could be found for the requested
// provider family. Classified as an authentication failure upstream.
var ErrUnresolvable = errors.New("no credential available for provider")

// ErrUnknownRef indicates the configuration names a stored credential that
// does not exist in the keyring.
var ErrUnknownRef = errors.New("unknown credential reference")

// Grant is the resolved destination and key for one dispatch. The key is
// never logged; only which resolution path produced it may be recorded.
type Grant struct {
	Endpoint string
	APIKey   string
}

// Resolver resolves credentials in a fixed order: the credential explicitly
// referenced by the model configuration, then the provider-scoped
// environment fallback, then failure.
type Resolver struct {
	keyring map[string]config.StoredCredential
	env     func(string) string
}

// NewResolver builds a resolver over the configured credential keyring.
func NewResolver(keyring map[string]config.StoredCredential) *Resolver {
	return &Resolver{
		keyring: keyring,
		env:     os.Getenv,
	}
}

// Resolve produces the endpoint and credential for a model configuration.
// Endpoint resolution is independent of credential resolution: an explicit
// override on the configuration always wins over the catalog default.
func (r *Resolver) Resolve(cfg models.ModelConfiguration) (Grant, error) {
	desc, err := catalog.Describe(cfg.Provider)
	if err != nil {
		return Grant{}, err
	}

	endpoint := strings.TrimRight(desc.DefaultEndpoint, "/")
	if override := strings.TrimSpace(cfg.Endpoint); override != "" {
		endpoint = strings.TrimRight(override, "/")
	}

	if ref := strings.TrimSpace(cfg.CredentialRef); ref != "" {
		stored, ok := r.keyring[ref]
		if !ok {
			return Grant{}, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
		}
		if stored.Provider != cfg.Provider {
			return Grant{}, fmt.Errorf("%w: credential %s is scoped to provider %s, not %s", ErrUnresolvable, ref, stored.Provider, cfg.Provider)
		}
		return Grant{Endpoint: endpoint, APIKey: stored.APIKey}, nil
	}

	if key := strings.TrimSpace(r.env(desc.EnvKey)); key != "" {
		return Grant{Endpoint: endpoint, APIKey: key}, nil
	}

	return Grant{}, fmt.Errorf("%w: %s", ErrUnresolvable, cfg.Provider)
}
