// Package s3 implements the provider interface against any S3-compatible
// object store (MinIO, AWS S3, Ceph RGW).
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/skysync/skysync/internal/config"
	"github.com/skysync/skysync/internal/provider"
)

// Provider is an S3-backed sync provider. A Provider is safe for concurrent
// use once connected.
type Provider struct {
	id     string
	cfg    config.S3ProviderConfig
	logger *slog.Logger

	mu     sync.RWMutex
	client *minio.Client
}

// New creates an S3 provider from its config section. The provider is not
// connected until Connect succeeds.
func New(id string, cfg config.S3ProviderConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{id: id, cfg: cfg, logger: logger}
}

// Info describes the provider.
func (p *Provider) Info() provider.Info {
	name := p.cfg.DisplayName
	if name == "" {
		name = p.id
	}
	return provider.Info{
		ID:           p.id,
		DisplayName:  name,
		StorageLimit: p.cfg.StorageLimit,
	}
}

// Connect authenticates against the endpoint and verifies the bucket is
// reachable. Credentials fields override the config section when set.
func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) error {
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = p.cfg.Endpoint
	}
	accessKey := creds.AccessKey
	if accessKey == "" {
		accessKey = p.cfg.AccessKey
	}
	secretKey := creds.SecretKey
	if secretKey == "" {
		secretKey = p.cfg.SecretKey
	}
	if endpoint == "" {
		return fmt.Errorf("provider %s: no endpoint configured", p.id)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, creds.Token),
		Secure: creds.UseTLS || p.cfg.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("creating s3 client for %s: %w", endpoint, err)
	}

	exists, err := client.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", p.cfg.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist on %s", p.cfg.Bucket, endpoint)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.logger.Info("s3 provider connected", "provider", p.id, "endpoint", endpoint, "bucket", p.cfg.Bucket)
	return nil
}

// Disconnect drops the session. In-flight calls keep their client handle.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
	p.logger.Info("s3 provider disconnected", "provider", p.id)
}

// IsAuthenticated reports whether Connect has succeeded.
func (p *Provider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}

func (p *Provider) getClient() (*minio.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, provider.ErrNotConnected
	}
	return p.client, nil
}

// Upload streams a local file to the bucket, reporting progress as the
// fraction of bytes sent.
func (p *Provider) Upload(ctx context.Context, localPath, remotePath string, onProgress provider.ProgressFunc) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	reader := newProgressReader(f, info.Size(), onProgress)
	_, err = client.PutObject(ctx, p.cfg.Bucket, remotePath, reader, info.Size(), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("uploading %s to %s: %w", localPath, remotePath, err)
	}
	return nil
}

// Download streams an object to localPath. The file is written to a
// temporary sibling and renamed so a partial download never replaces a
// good copy.
func (p *Provider) Download(ctx context.Context, remotePath, localPath string, onProgress provider.ProgressFunc) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}

	obj, err := client.GetObject(ctx, p.cfg.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("fetching %s: %w", remotePath, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return fmt.Errorf("stat remote %s: %w", remotePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", localPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".skysync-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	reader := newProgressReader(obj, stat.Size, onProgress)
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}
	return nil
}

// Delete removes an object. Deleting a missing object is not an error,
// matching S3 semantics.
func (p *Provider) Delete(ctx context.Context, remotePath string) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}
	if err := client.RemoveObject(ctx, p.cfg.Bucket, remotePath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting %s: %w", remotePath, err)
	}
	return nil
}

// List enumerates objects under prefix. Checksums are left empty: S3 ETags
// are not content hashes for multipart uploads, so comparisons fall back to
// size and modification time.
func (p *Provider) List(ctx context.Context, prefix string) ([]provider.RemoteFile, error) {
	client, err := p.getClient()
	if err != nil {
		return nil, err
	}

	var files []provider.RemoteFile
	for obj := range client.ListObjects(ctx, p.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", p.cfg.Bucket, obj.Err)
		}
		files = append(files, provider.RemoteFile{
			Path:       obj.Key,
			Size:       obj.Size,
			ModifiedAt: obj.LastModified.Unix(),
		})
	}
	return files, nil
}

// Quota reports usage by summing object sizes. S3 has no native quota API;
// the total comes from the configured storage limit, zero meaning unlimited.
func (p *Provider) Quota(ctx context.Context) (provider.Quota, error) {
	files, err := p.List(ctx, "")
	if err != nil {
		return provider.Quota{}, err
	}

	var used int64
	for _, f := range files {
		used += f.Size
	}

	q := provider.Quota{TotalBytes: p.cfg.StorageLimit, UsedBytes: used}
	if q.TotalBytes > 0 {
		q.AvailableBytes = q.TotalBytes - used
		if q.AvailableBytes < 0 {
			q.AvailableBytes = 0
		}
	}
	return q, nil
}

// progressReader reports the cumulative fraction read to a callback.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress provider.ProgressFunc
}

func newProgressReader(r io.Reader, total int64, onProgress provider.ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.read += int64(n)
		if pr.onProgress != nil && pr.total > 0 {
			pr.onProgress(float64(pr.read) / float64(pr.total))
		}
	}
	return n, err
}
