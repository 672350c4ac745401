package prescription

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3DocumentStorePut(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3DocumentStore(fake, "rx-bucket")

	require.NoError(t, store.Put(context.Background(), "prescriptions/p/1.pdf", "application/pdf", pdfBytes))
	assert.Equal(t, "rx-bucket", *fake.input.Bucket)
	assert.Equal(t, "prescriptions/p/1.pdf", *fake.input.Key)
	assert.Equal(t, "application/pdf", *fake.input.ContentType)
	assert.Equal(t, pdfBytes, fake.body)

	fake.err = errors.New("access denied")
	assert.Error(t, store.Put(context.Background(), "k", "application/pdf", pdfBytes))
}
