//go:build integration

package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vrcbz/dvr/internal/config"
	"github.com/vrcbz/dvr/internal/storage"
)

const (
	minioImage = "minio/minio:latest"
	minioPort  = "9000"
	accessKey  = "dvr-test"
	secretKey  = "dvr-test-secret"
	bucket     = "vods"
)

// startMinio runs a throwaway MinIO container and returns its S3
// endpoint with the test bucket already created.
func startMinio(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        minioImage,
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{minioPort + "/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(minioPort+"/tcp"),
				wait.ForHTTP("/minio/health/ready").WithPort(minioPort+"/tcp"),
			).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, minioPort)
	require.NoError(t, err)
	endpoint := "http://" + host + ":" + port.Port()

	_, err = rawClient(t, endpoint).CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	require.NoError(t, err)

	return endpoint
}

func rawClient(t *testing.T, endpoint string) *s3.Client {
	t.Helper()
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	require.NoError(t, err)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}

func storageConfig(endpoint string) (config.Storage, config.Upload) {
	st := config.Storage{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		Region:    "auto",
	}
	return st, config.Default().Upload
}

func TestUploadRoundTrip(t *testing.T) {
	endpoint := startMinio(t)
	ctx := context.Background()

	st, up := storageConfig(endpoint)
	s3store, err := storage.New(ctx, st, up)
	require.NoError(t, err)

	const key = "alice-2026-01-02T15-04-05-123Z.ogg"
	payload := strings.Repeat("opus audio ", 1024)
	require.NoError(t, s3store.Upload(ctx, key, strings.NewReader(payload)))

	obj, err := rawClient(t, endpoint).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err)
	defer func() {
		_ = obj.Body.Close()
	}()

	require.Equal(t, "audio/ogg", aws.ToString(obj.ContentType))
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.Equal(t, payload, string(got))
}

func TestUploadMultipart(t *testing.T) {
	endpoint := startMinio(t)
	ctx := context.Background()

	st, up := storageConfig(endpoint)
	s3store, err := storage.New(ctx, st, up)
	require.NoError(t, err)

	// larger than one part so the manager splits the transfer
	size := up.PartSize*2 + 512
	const key = "bob-2026-01-02T15-04-05-123Z.ogg"
	require.NoError(t, s3store.Upload(ctx, key, io.LimitReader(neverEnding('x'), size)))

	head, err := rawClient(t, endpoint).HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err)
	require.Equal(t, size, aws.ToInt64(head.ContentLength))
}

func TestUploadMissingBucket(t *testing.T) {
	endpoint := startMinio(t)
	ctx := context.Background()

	st, up := storageConfig(endpoint)
	st.Bucket = "does-not-exist"
	s3store, err := storage.New(ctx, st, up)
	require.NoError(t, err)

	err = s3store.Upload(ctx, "key.ogg", strings.NewReader("payload"))
	require.Error(t, err)
}

type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}
