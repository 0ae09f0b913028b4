// Package storage uploads finished artifacts to S3-compatible object
// storage using multipart transfer.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vrcbz/dvr/internal/config"
)

const contentType = "audio/ogg"

type S3 struct {
	uploader *manager.Uploader
	bucket   string
}

// New builds the multipart uploader. The upload contract maps directly
// onto the SDK: retry count via the client retryer, queue depth via
// manager Concurrency, part size via manager PartSize.
func New(ctx context.Context, st config.Storage, up config.Upload) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(st.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(st.AccessKey, st.SecretKey, ""),
		),
		awsconfig.WithRetryMaxAttempts(up.Retries),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(st.Endpoint)
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = up.PartSize
		u.Concurrency = up.QueueSize
	})

	return &S3{
		uploader: uploader,
		bucket:   st.Bucket,
	}, nil
}

func (s *S3) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}
