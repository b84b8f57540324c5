package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrArchiveNotConfigured = errors.New("backup archive not configured")

// S3Client is the subset of *s3.Client the archiver uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver stores backups in an S3 bucket under
// {prefix}{principalId}/gestioncitas_backup_<date>.json.
type Archiver struct {
	client S3Client
	bucket string
	prefix string
}

func NewArchiver(client S3Client, bucket, prefix string) *Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a backup taken at now.
func (a *Archiver) Key(principalID string, now time.Time) string {
	return a.prefix + principalID + "/" + FileName(now)
}

// Archive uploads b and returns the object key.
func (a *Archiver) Archive(ctx context.Context, principalID string, b *Backup, now time.Time) (string, error) {
	if a == nil || a.client == nil || a.bucket == "" {
		return "", ErrArchiveNotConfigured
	}
	data, err := b.Encode()
	if err != nil {
		return "", err
	}
	key := a.Key(principalID, now)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json; charset=utf-8"),
		Metadata: map[string]string{
			"principal_id":      principalID,
			"patient_count":     strconv.Itoa(len(b.Patients)),
			"appointment_count": strconv.Itoa(len(b.Appointments)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload backup %s: %w", key, err)
	}
	return key, nil
}
