package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/runstore"
)

type memS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := *in.Bucket + "/" + *in.Key
	m.objects[key] = data
	m.types[key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func testRun() (*runstore.Run, []dispatch.SendResult) {
	run := &runstore.Run{
		ID:         "run-1",
		TemplateID: "tpl",
		State:      runstore.StateCompleted,
		TotalJobs:  2,
		CreatedAt:  time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC),
	}
	results := []dispatch.SendResult{
		{SequenceNumber: 1, Status: dispatch.StatusSuccess, Attempts: 1},
		{SequenceNumber: 2, Status: dispatch.StatusFailed, ErrorCode: "-108", Attempts: 1},
	}
	return run, results
}

func TestS3Archive(t *testing.T) {
	store := newMemS3()
	a := NewS3Archive(store, "archive-bucket", "/zns/")
	run, results := testRun()

	uri, err := a.Archive(context.Background(), run, results)
	require.NoError(t, err)
	assert.Equal(t, "s3://archive-bucket/zns/runs/2026/03/09/run-1.json", uri)
	assert.Equal(t, "application/json", store.types["archive-bucket/zns/runs/2026/03/09/run-1.json"])

	rec, err := a.Load(context.Background(), "zns/runs/2026/03/09/run-1.json")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.Run.ID)
	require.Len(t, rec.Results, 2)
	assert.Equal(t, "-108", rec.Results[1].ErrorCode)

	_, err = a.Load(context.Background(), "zns/runs/missing.json")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestLocalArchive(t *testing.T) {
	a := NewLocalArchive(t.TempDir(), "")
	run, results := testRun()

	key, err := a.Archive(context.Background(), run, results)
	require.NoError(t, err)
	assert.Equal(t, "runs/2026/03/09/run-1.json", key)

	rec, err := a.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, runstore.StateCompleted, rec.Run.State)
	assert.Len(t, rec.Results, 2)

	_, err = a.Load(context.Background(), "runs/nope.json")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestNew(t *testing.T) {
	a, err := New(config.ArchiveConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = New(config.ArchiveConfig{Type: "local", LocalPath: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalArchive{}, a)

	a, err = New(config.ArchiveConfig{Type: "s3", Bucket: "b"}, newMemS3())
	require.NoError(t, err)
	assert.IsType(t, &S3Archive{}, a)

	_, err = New(config.ArchiveConfig{Type: "s3", Bucket: "b"}, nil)
	assert.Error(t, err)

	_, err = New(config.ArchiveConfig{Type: "local"}, nil)
	assert.Error(t, err)

	_, err = New(config.ArchiveConfig{Type: "gcs"}, nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
