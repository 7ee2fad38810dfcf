package provider

import (
	"context"
	"testing"
)

type stubProvider struct {
	id   string
	name string
}

func (s *stubProvider) Info() Info { return Info{ID: s.id, DisplayName: s.name} }
func (s *stubProvider) Connect(ctx context.Context, creds Credentials) error {
	return nil
}
func (s *stubProvider) Disconnect()           {}
func (s *stubProvider) IsAuthenticated() bool { return true }
func (s *stubProvider) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	return nil
}
func (s *stubProvider) Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error {
	return nil
}
func (s *stubProvider) Delete(ctx context.Context, remotePath string) error { return nil }
func (s *stubProvider) List(ctx context.Context, prefix string) ([]RemoteFile, error) {
	return nil, nil
}
func (s *stubProvider) Quota(ctx context.Context) (Quota, error) { return Quota{}, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("minio"); ok {
		t.Fatal("empty registry returned a provider")
	}
	if len(r.Names()) != 0 {
		t.Fatalf("empty registry has %d names", len(r.Names()))
	}

	r.Register(&stubProvider{id: "minio", name: "MinIO"})
	r.Register(&stubProvider{id: "gdrive", name: "Drive"})

	p, ok := r.Get("minio")
	if !ok {
		t.Fatal("registered provider not found")
	}
	if p.Info().DisplayName != "MinIO" {
		t.Fatalf("display name = %s, want MinIO", p.Info().DisplayName)
	}

	if len(r.Names()) != 2 {
		t.Fatalf("Names() returned %d, want 2", len(r.Names()))
	}
	if len(r.All()) != 2 {
		t.Fatalf("All() returned %d, want 2", len(r.All()))
	}

	// Re-registering the same ID replaces the entry.
	r.Register(&stubProvider{id: "minio", name: "MinIO v2"})
	p, _ = r.Get("minio")
	if p.Info().DisplayName != "MinIO v2" {
		t.Fatal("re-registration did not replace the provider")
	}
	if len(r.Names()) != 2 {
		t.Fatalf("re-registration grew the registry to %d", len(r.Names()))
	}

	r.Remove("minio")
	if _, ok := r.Get("minio"); ok {
		t.Fatal("removed provider still present")
	}
	if len(r.Names()) != 1 {
		t.Fatalf("Names() after remove returned %d, want 1", len(r.Names()))
	}
}
