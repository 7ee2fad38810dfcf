package provider

import (
	"context"
	"errors"
)

// ProgressFunc is invoked during uploads and downloads with a fraction in
// [0,1]. Implementations must call it with non-decreasing values.
type ProgressFunc func(fraction float64)

// Credentials carries whatever a backend needs to authenticate. Fields not
// used by a given backend are left empty.
type Credentials struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Token     string
	UseTLS    bool
}

// Quota reports remote storage usage.
type Quota struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// RemoteFile describes one object on the remote side, as returned by List.
type RemoteFile struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modified_at"` // unix seconds
	Checksum   string `json:"checksum,omitempty"`
}

// Info is the immutable identity of a remote backend.
type Info struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	StorageLimit int64  `json:"storage_limit,omitempty"` // advertised limit in bytes, 0 if unknown
}

// ErrNotConnected is returned by calls issued against a provider that has
// not authenticated.
var ErrNotConnected = errors.New("provider not connected")

// Provider is the capability contract every remote backend must satisfy.
// The engine depends on this interface only; it never branches on vendor
// identity except to read Info metadata. All calls are cancellable through
// their context, and a failure is always reported as an error, never as a
// silently-empty success.
type Provider interface {
	// Info returns the backend's identity metadata.
	Info() Info

	// Connect authenticates against the backend.
	Connect(ctx context.Context, creds Credentials) error

	// Disconnect drops the authenticated session. Safe to call when not connected.
	Disconnect()

	// IsAuthenticated reports whether the provider holds a usable session.
	IsAuthenticated() bool

	// Upload copies localPath to remotePath, overwriting. onProgress may be nil.
	Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error

	// Download copies remotePath to localPath, overwriting. onProgress may be nil.
	Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error

	// Delete removes remotePath.
	Delete(ctx context.Context, remotePath string) error

	// List enumerates remote objects under prefix.
	List(ctx context.Context, prefix string) ([]RemoteFile, error)

	// Quota reports storage usage for the backend.
	Quota(ctx context.Context) (Quota, error)
}

// Registry holds all configured providers, keyed by Info().ID.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry using its Info().ID.
func (r *Registry) Register(p Provider) {
	r.providers[p.Info().ID] = p
}

// Get returns a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// All returns all registered providers.
func (r *Registry) All() map[string]Provider {
	return r.providers
}

// Remove deletes a provider from the registry by ID.
func (r *Registry) Remove(id string) {
	delete(r.providers, id)
}

// Names returns all registered provider IDs.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
