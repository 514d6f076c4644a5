package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"physbib/config"
)

// BackupClient ist der Ausschnitt der S3-API, den das Backup benötigt.
type BackupClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client erstellt einen S3-Client; mit gesetztem Endpoint wird Path-Style genutzt (MinIO, Strato).
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Backup sichert eine Datei gzip-komprimiert nach S3 und rotiert alte Sicherungen.
type Backup struct {
	Client BackupClient
	Bucket string
	Prefix string
	Keep   int
	Logger *zap.Logger
}

// BackupKey liefert den Objektschlüssel für einen Zeitpunkt.
func (b *Backup) BackupKey(now time.Time) string {
	return fmt.Sprintf("%sbackup-%s.db.gz", b.Prefix, now.UTC().Format("2006-01-02T15-04-05Z"))
}

// Run komprimiert path, lädt es hoch und löscht überzählige Backups.
func (b *Backup) Run(ctx context.Context, path string) (string, error) {
	data, err := GzipFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to compress database file: %w", err)
	}
	key := b.BackupKey(time.Now())
	_, err = b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}
	b.Logger.Info("Backup hochgeladen", zap.String("bucket", b.Bucket), zap.String("key", key), zap.Int("bytes", len(data)))

	if err := b.Rotate(ctx); err != nil {
		return key, err
	}
	return key, nil
}

// Rotate löscht alle Backups unter Prefix bis auf die neuesten Keep.
func (b *Backup) Rotate(ctx context.Context) error {
	out, err := b.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Bucket),
		Prefix: aws.String(b.Prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	expired := ExpiredBackups(out.Contents, b.Keep)
	if len(expired) == 0 {
		b.Logger.Debug("Keine Rotation nötig", zap.Int("backups", len(out.Contents)), zap.Int("keep", b.Keep))
		return nil
	}
	for _, key := range expired {
		b.Logger.Info("Lösche altes Backup", zap.String("key", key))
		_, err := b.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			b.Logger.Error("Fehler beim Löschen", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// ExpiredBackups sortiert nach LastModified absteigend und liefert die Schlüssel jenseits keep.
func ExpiredBackups(objects []types.Object, keep int) []string {
	if len(objects) <= keep {
		return nil
	}
	sorted := make([]types.Object, len(objects))
	copy(sorted, objects)
	sort.SliceStable(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})
	var keys []string
	for _, obj := range sorted[keep:] {
		key := aws.ToString(obj.Key)
		if !strings.HasSuffix(key, ".gz") {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// GzipFile liest eine Datei vollständig und liefert sie gzip-komprimiert.
func GzipFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, f); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
