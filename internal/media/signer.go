package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/task"
	"google.golang.org/api/option"
)

const DefaultExpiry = time.Hour

// ClientOptionsFromEnv reads service account credentials the usual way:
// inline JSON first, then a file path.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// GCSSigner signs read URLs for objects in one bucket directly, without a
// round trip to the task backend.
type GCSSigner struct {
	client *storage.Client
	bucket *storage.BucketHandle
	expiry time.Duration

	// GoogleAccessID and PrivateKey sign locally when set; otherwise the
	// client's credentials are used.
	GoogleAccessID string
	PrivateKey     []byte

	now func() time.Time
}

func NewGCSSigner(ctx context.Context, bucket string, expiry time.Duration, opts ...option.ClientOption) (*GCSSigner, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("media: bucket is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if len(opts) == 0 {
		opts = ClientOptionsFromEnv()
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: storage client: %w", err)
	}
	return &GCSSigner{client: client, bucket: client.Bucket(bucket), expiry: expiry, now: time.Now}, nil
}

func (s *GCSSigner) SignURL(_ context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("media: empty key")
	}
	u, err := s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(s.expiry),
		GoogleAccessID: s.GoogleAccessID,
		PrivateKey:     s.PrivateKey,
	})
	if err != nil {
		return "", fmt.Errorf("media: sign %q: %w", key, err)
	}
	return u, nil
}

func (s *GCSSigner) Close() error {
	return s.client.Close()
}

// BackendSigner asks the task backend to sign keys for the signed-in user.
type BackendSigner struct {
	Client   *task.Client
	Sessions auth.Source
}

func (s BackendSigner) SignURL(ctx context.Context, key string) (string, error) {
	sess, err := s.Sessions.Active(ctx)
	if err != nil {
		return "", err
	}
	return s.Client.SignURL(ctx, sess.AccessToken, key)
}

// Cached remembers signed URLs until half their lifetime has passed, so a
// list view re-rendering does not re-sign every key.
type Cached struct {
	signer task.Signer
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedURL
}

type cachedURL struct {
	url     string
	expires time.Time
}

func NewCached(signer task.Signer, expiry time.Duration) *Cached {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Cached{signer: signer, ttl: expiry / 2, now: time.Now, entries: make(map[string]cachedURL)}
}

func (c *Cached) SignURL(ctx context.Context, key string) (string, error) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.url, nil
	}

	u, err := c.signer.SignURL(ctx, key)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.entries[key] = cachedURL{url: u, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return u, nil
}

// Forget drops every cached URL, e.g. after the user changes.
func (c *Cached) Forget() {
	c.mu.Lock()
	c.entries = make(map[string]cachedURL)
	c.mu.Unlock()
}
