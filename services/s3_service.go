package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// objects are keyed by content hash under this prefix
const s3KeyPrefix = "datawallet/"

// S3HeadAPI is the part of the s3 client used to detect existing objects
type S3HeadAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3UploadAPI is implemented by manager.Uploader
type S3UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Service is a content-addressed ContentStore on S3
type S3Service struct {
	client   S3HeadAPI
	uploader S3UploadAPI
	bucket   string
}

func NewS3Service(env *types.Environment) *S3Service {
	return &S3Service{
		client:   env.S3Client,
		uploader: env.S3Uploader,
		bucket:   global.Conf.Storage.Bucket,
	}
}

// NewS3ServiceWithClients is used when the clients are not part of the environment
func NewS3ServiceWithClients(client S3HeadAPI, uploader S3UploadAPI, bucket string) *S3Service {
	return &S3Service{client: client, uploader: uploader, bucket: bucket}
}

// Put stores content under its sha256 key. Existing objects are not uploaded again.
func (s3s *S3Service) Put(ctx context.Context, name string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%w: empty content of %s", types.ErrBadRequest, name)
	}
	key := s3KeyPrefix + util.Sha256Hex(content)
	ref := fmt.Sprintf("s3://%s/%s", s3s.bucket, key)

	exists, err := s3s.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return ref, nil
	}

	_, uErr := s3s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s3s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(content),
		Metadata: map[string]string{"wallet": name},
	})
	if uErr != nil {
		global.Logger.Log("error", "failed to upload content", "key", key, "err", uErr)
		return "", fmt.Errorf("%w: %s", types.ErrStorageFailure, uErr.Error())
	}
	return ref, nil
}

func (s3s *S3Service) exists(ctx context.Context, key string) (bool, error) {
	_, err := s3s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *s3Types.NotFound
	var noKey *s3Types.NoSuchKey
	var apiErr smithy.APIError
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return false, nil
		case "AccessDenied", "Forbidden":
			global.Logger.Log("warning", "access denied", "objectKey", key)
			return false, fmt.Errorf("%w: access denied to %s", types.ErrConfiguration, key)
		}
	}
	global.Logger.Log("error", "error checking object", "objectKey", key, "err", err)
	return false, fmt.Errorf("%w: %s", types.ErrStorageFailure, err.Error())
}
