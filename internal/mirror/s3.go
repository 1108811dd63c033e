package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/config"
)

// S3Mirror replicates blob bytes to an S3 bucket so peer devices can
// fetch content by hash. Objects are keyed <prefix>/<sha256>; since a
// key is a pure function of the content, overwrites are harmless and
// Put short-circuits when the key already exists.
type S3Mirror struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Mirror creates a mirror backed by the configured bucket.
// Credentials come from the standard AWS chain unless static keys are
// set in the config.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 mirror requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Mirror{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
	}, nil
}

// Put uploads the bytes under the hash key. Idempotent: an existing
// object is left untouched and the reader is drained.
func (m *S3Mirror) Put(hash string, r io.Reader, size int64) error {
	ctx := context.Background()

	exists, err := m.Has(hash)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(hash)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading to mirror: %w", err)
	}
	return nil
}

// Get writes the mirrored bytes to w.
func (m *S3Mirror) Get(hash string, w io.Writer) error {
	ctx := context.Background()

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(hash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return &blob.NotFoundError{Kind: "blob", ID: hash}
		}
		return fmt.Errorf("fetching from mirror: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading mirror object: %w", err)
	}
	return nil
}

// Has reports whether the hash is mirrored.
func (m *S3Mirror) Has(hash string) (bool, error) {
	ctx := context.Background()

	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(hash)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking mirror object: %w", err)
	}
	return true, nil
}

func (m *S3Mirror) key(hash string) string {
	if m.prefix == "" {
		return hash
	}
	return m.prefix + "/" + hash
}

// Compile-time check that S3Mirror implements blob.Mirror
var _ blob.Mirror = (*S3Mirror)(nil)
