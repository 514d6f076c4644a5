package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBucket struct {
	objects map[string]time.Time
	bodies  map[string][]byte
	deleted []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]time.Time{}, bodies: map[string][]byte{}}
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = time.Now().Add(time.Hour)
	f.bodies[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k, ts := range f.objects {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: aws.Time(ts)})
	}
	return out, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, *in.Key)
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestExpiredBackupsKeepsNewest(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	objs := []types.Object{
		{Key: aws.String("b-1.db.gz"), LastModified: aws.Time(base)},
		{Key: aws.String("b-3.db.gz"), LastModified: aws.Time(base.Add(2 * time.Hour))},
		{Key: aws.String("b-2.db.gz"), LastModified: aws.Time(base.Add(time.Hour))},
	}
	assert.Equal(t, []string{"b-1.db.gz"}, ExpiredBackups(objs, 2))
	assert.Nil(t, ExpiredBackups(objs, 3))
}

func TestBackupRunUploadsAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.db")
	require.NoError(t, os.WriteFile(path, []byte("sqlite content"), 0o600))

	bucket := newFakeBucket()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket.objects["physbib/backup-old1.db.gz"] = old
	bucket.objects["physbib/backup-old2.db.gz"] = old.Add(time.Minute)

	b := &Backup{Client: bucket, Bucket: "bk", Prefix: "physbib/", Keep: 2, Logger: zap.NewNop()}
	key, err := b.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Contains(t, bucket.objects, key)
	assert.Equal(t, []string{"physbib/backup-old1.db.gz"}, bucket.deleted)

	gz, err := gzip.NewReader(bytes.NewReader(bucket.bodies[key]))
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "sqlite content", string(content))
}
