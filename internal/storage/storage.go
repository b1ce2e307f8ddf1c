package storage

import "context"

// BlobStore is the durable file storage capability. Uploads to the same path
// overwrite (upsert), which keeps retried uploads safe.
type BlobStore interface {
	// Upload stores data at bucket/path and returns the public URL.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	// Download fetches the object at bucket/path.
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	// Delete removes the object at bucket/path.
	Delete(ctx context.Context, bucket, path string) error
	// PublicURL returns the public URL for bucket/path without touching the store.
	PublicURL(bucket, path string) string
	// ParsePublicURL is the inverse of PublicURL. It rejects URLs that do not
	// belong to this store.
	ParsePublicURL(rawURL string) (bucket, path string, err error)
}
