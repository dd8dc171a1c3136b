package recipients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/zns-dispatch/internal/config"
)

var (
	ErrSourceNotFound   = errors.New("recipients: source not found")
	ErrS3NotConfigured  = errors.New("recipients: s3 source requested but no S3 client configured")
	ErrInvalidSourceURI = errors.New("recipients: invalid source uri")
	ErrLocalNotAllowed  = errors.New("recipients: local file sources are disabled")
)

// ObjectGetter is the subset of *s3.Client used to read recipient files.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves recipient source URIs: local paths, file:// URIs and
// s3://bucket/key. Local paths are only opened when AllowLocal is set.
type Opener struct {
	S3         ObjectGetter
	AllowLocal bool
}

// NewS3Client builds an S3 client from cfg. Static keys win over the
// profile; without either the default credential chain is used.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKeyID != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case cfg.GetAWSProfile() != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.GetAWSProfile()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Open returns a reader for the recipient file at uri. The caller closes it.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, key, err := ParseS3URI(uri)
		if err != nil {
			return nil, err
		}
		return o.openS3(ctx, bucket, key)
	case strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file://"):
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidSourceURI, uri)
	case !o.AllowLocal:
		return nil, ErrLocalNotAllowed
	default:
		return openFile(strings.TrimPrefix(uri, "file://"))
	}
}

func (o *Opener) openS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if o.S3 == nil {
		return nil, ErrS3NotConfigured
	}
	out, err := o.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrSourceNotFound, bucket, key)
		}
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func openFile(path string) (io.ReadCloser, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidSourceURI)
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an s3 uri", ErrInvalidSourceURI, uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and a key", ErrInvalidSourceURI, uri)
	}
	return bucket, key, nil
}
