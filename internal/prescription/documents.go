package prescription

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DocumentStore keeps uploaded prescription files. The gate only needs to
// write them; reviewers read them out of band.
type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// S3API is the subset of the S3 client used by S3DocumentStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3DocumentStore struct {
	client S3API
	bucket string
}

func NewS3DocumentStore(client S3API, bucket string) *S3DocumentStore {
	return &S3DocumentStore{client: client, bucket: bucket}
}

func (s *S3DocumentStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String(contentType),
		ContentLength:        aws.Int64(int64(len(data))),
		ServerSideEncryption: "AES256",
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

type MemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string][]byte)}
}

func (s *MemoryDocumentStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryDocumentStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[key]
	return d, ok
}
