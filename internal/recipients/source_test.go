package recipients

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestOpener_S3(t *testing.T) {
	o := &Opener{S3: &fakeS3{objects: map[string]string{
		"campaigns/2026/10/tet.csv": "phone\n0912345678\n",
	}}}

	rc, err := o.Open(context.Background(), "s3://campaigns/2026/10/tet.csv")
	require.NoError(t, err)
	defer rc.Close()

	jobs, err := Parse(rc, Options{TemplateID: "t", CountryCode: "84"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = o.Open(context.Background(), "s3://campaigns/missing.csv")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestOpener_S3Errors(t *testing.T) {
	_, err := (&Opener{}).Open(context.Background(), "s3://bucket/key.csv")
	assert.ErrorIs(t, err, ErrS3NotConfigured)

	o := &Opener{S3: &fakeS3{err: errors.New("access denied")}}
	_, err = o.Open(context.Background(), "s3://bucket/key.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestOpener_LocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipients.csv")
	require.NoError(t, os.WriteFile(path, []byte("phone\n0912345678\n"), 0o600))

	_, err := (&Opener{}).Open(context.Background(), path)
	assert.ErrorIs(t, err, ErrLocalNotAllowed)

	o := &Opener{AllowLocal: true}
	for _, uri := range []string{path, "file://" + path} {
		rc, err := o.Open(context.Background(), uri)
		require.NoError(t, err, uri)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "phone\n0912345678\n", string(b))
	}

	_, err = o.Open(context.Background(), filepath.Join(dir, "nope.csv"))
	assert.ErrorIs(t, err, ErrSourceNotFound)

	_, err = o.Open(context.Background(), "https://example.com/list.csv")
	assert.ErrorIs(t, err, ErrInvalidSourceURI)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://zns-lists/oa/123/list.csv")
	require.NoError(t, err)
	assert.Equal(t, "zns-lists", bucket)
	assert.Equal(t, "oa/123/list.csv", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "/tmp/x.csv"} {
		_, _, err := ParseS3URI(bad)
		assert.ErrorIs(t, err, ErrInvalidSourceURI, bad)
	}
}
