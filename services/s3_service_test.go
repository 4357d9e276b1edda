package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	objects   map[string][]byte
	metadata  map[string]map[string]string
	headErr   error
	uploadErr error
	uploads   int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (f *fakeBucket) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(params.Key)]; !ok {
		return nil, &s3Types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeBucket) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(input.Key)] = body
	f.metadata[aws.ToString(input.Key)] = input.Metadata
	return &manager.UploadOutput{Key: input.Key}, nil
}

func TestS3PutContentAddressed(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3ServiceWithClients(bucket, bucket, "wallets")

	ref, err := store.Put(context.Background(), "0xabc", []byte("hello world"))
	require.NoError(t, err)
	key := s3KeyPrefix + util.Sha256Hex([]byte("hello world"))
	assert.Equal(t, "s3://wallets/"+key, ref)
	assert.Equal(t, []byte("hello world"), bucket.objects[key])
	assert.Equal(t, "0xabc", bucket.metadata[key]["wallet"])

	// same content is not uploaded twice
	again, err := store.Put(context.Background(), "0xdef", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 1, bucket.uploads)
}

func TestS3PutErrors(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3ServiceWithClients(bucket, bucket, "wallets")

	_, err := store.Put(context.Background(), "0xabc", nil)
	assert.ErrorIs(t, err, types.ErrBadRequest)

	bucket.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = store.Put(context.Background(), "0xabc", []byte("x"))
	assert.ErrorIs(t, err, types.ErrConfiguration)

	bucket.headErr = &smithy.GenericAPIError{Code: "NoSuchKey"}
	bucket.uploadErr = errors.New("connection reset")
	_, err = store.Put(context.Background(), "0xabc", []byte("x"))
	assert.ErrorIs(t, err, types.ErrStorageFailure)
	assert.True(t, types.IsTransient(err))

	bucket.headErr = errors.New("timeout")
	_, err = store.Put(context.Background(), "0xabc", []byte("x"))
	assert.ErrorIs(t, err, types.ErrStorageFailure)
}
