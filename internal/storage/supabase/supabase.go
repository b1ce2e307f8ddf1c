package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const publicPrefix = "/storage/v1/object/public/"

// Store implements storage.BlobStore against the Supabase Storage REST API.
type Store struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// New creates a store for the given project URL and service-role key.
func New(baseURL, serviceKey string) *Store {
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *Store) objectURL(bucket, path string) string {
	return s.baseURL + "/storage/v1/object/" + bucket + "/" + path
}

func (s *Store) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(bucket, path), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	// Same-path retries overwrite rather than fail.
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upload %s/%s: HTTP %d: %s", bucket, path, resp.StatusCode, string(body))
	}

	return s.PublicURL(bucket, path), nil
}

func (s *Store) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(bucket, path), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download %s/%s: HTTP %d: %s", bucket, path, resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

func (s *Store) Delete(ctx context.Context, bucket, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(bucket, path), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("delete %s/%s: HTTP %d: %s", bucket, path, resp.StatusCode, string(body))
	}
	return nil
}

func (s *Store) PublicURL(bucket, path string) string {
	return s.baseURL + publicPrefix + bucket + "/" + path
}

func (s *Store) ParsePublicURL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid storage URL: %w", err)
	}
	rest, ok := strings.CutPrefix(u.Path, publicPrefix)
	if !ok {
		return "", "", fmt.Errorf("not a public storage URL: %q", rawURL)
	}
	bucket, path, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || path == "" {
		return "", "", fmt.Errorf("malformed storage URL: %q", rawURL)
	}
	return bucket, path, nil
}
