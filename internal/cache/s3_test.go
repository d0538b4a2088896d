package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects  map[string][]byte
	modified time.Time
	getErr   error
	putErr   error
	lastPut  *s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, modified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(data)),
		LastModified: aws.Time(f.modified),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	client := newFakeS3()
	s := NewS3Store(client, "ci-cache", "ec2-inventory/")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "inventory_cache.json", []byte(`{"_meta":{}}`)))
	assert.Contains(t, client.objects, "ci-cache/ec2-inventory/inventory_cache.json")
	assert.Equal(t, s3types.ServerSideEncryptionAes256, client.lastPut.ServerSideEncryption)
	assert.Equal(t, "application/json", aws.ToString(client.lastPut.ContentType))

	data, mtime, err := s.Get(ctx, "inventory_cache.json")
	require.NoError(t, err)
	assert.Equal(t, `{"_meta":{}}`, string(data))
	assert.Equal(t, client.modified, mtime)
}

func TestS3Store_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no such key", &s3types.NoSuchKey{}},
		{"head style not found", &smithy.GenericAPIError{Code: "NotFound"}},
		{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeS3()
			client.getErr = tt.err
			s := NewS3Store(client, "b", "")

			_, _, err := s.Get(context.Background(), "k.json")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestS3Store_OtherErrors(t *testing.T) {
	client := newFakeS3()
	client.getErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	client.putErr = errors.New("connection reset")
	s := NewS3Store(client, "b", "")
	ctx := context.Background()

	_, _, err := s.Get(ctx, "k.json")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = s.Put(ctx, "k.json", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k.json")
}
