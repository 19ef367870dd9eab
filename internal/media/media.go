package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ErrEmptyBlob rejects zero-byte uploads before they hit the object store.
var ErrEmptyBlob = errors.New("media blob is empty")

// Store uploads a binary object under key and returns a retrievable locator.
type Store interface {
	Upload(ctx context.Context, key string, blob []byte, contentType string) (string, error)
}

// S3Store keeps objects in an S3 bucket, addressed under baseURL.
type S3Store struct {
	client  *s3.S3
	bucket  string
	baseURL string
}

func NewS3Store(bucket, region, baseURL string) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &S3Store{
		client:  s3.New(sess),
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, blob []byte, contentType string) (string, error) {
	if len(blob) == 0 {
		return "", ErrEmptyBlob
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

// MemoryStore holds objects in process memory. Used in tests and local runs
// without a bucket configured.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryStore) Upload(ctx context.Context, key string, blob []byte, contentType string) (string, error) {
	if len(blob) == 0 {
		return "", ErrEmptyBlob
	}
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), blob...)
	m.mu.Unlock()
	return m.baseURL + "/" + key, nil
}

// Get returns a stored object, for serving local media.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
