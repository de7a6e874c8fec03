package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// S3Backend implements a storage backend using Amazon S3 or compatible
// services.
//
// Key layout:
//
//	{prefix}spaces/{space_uuid}/_meta.json
//	{prefix}spaces/{space_uuid}/resources/{escaped_path}
//
// Resource content types are stored natively on the object, so S3's atomic
// PUT covers the (content, content_type) pair. Space deletion heads the
// metadata object first and then removes every key under the space prefix;
// keys that vanish between the list and the delete are treated as already
// deleted rather than surfacing the race.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 storage backend. If accessKey and secretKey
// are empty the backend relies on ambient credentials (profile, environment
// or instance role).
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}, nil
}

func (b *S3Backend) metaKey(spaceUUID string) string {
	return fmt.Sprintf("%sspaces/%s/_meta.json", b.prefix, spaceUUID)
}

func (b *S3Backend) resourceKey(spaceUUID, path string) string {
	return fmt.Sprintf("%sspaces/%s/resources/%s", b.prefix, spaceUUID, url.PathEscape(path))
}

func (b *S3Backend) spacePrefix(spaceUUID string) string {
	return fmt.Sprintf("%sspaces/%s/", b.prefix, spaceUUID)
}

// isNotFoundErr reports whether an S3 error denotes a missing object.
func isNotFoundErr(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NoSuchKey") ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "404"))
}

// headSpace verifies the space metadata object exists.
func (b *S3Backend) headSpace(ctx context.Context, spaceUUID string) error {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.metaKey(spaceUUID)),
	})
	if isNotFoundErr(err) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// PutSpace uploads the space metadata object. S3 PUT is atomic.
func (b *S3Backend) PutSpace(ctx context.Context, space interfaces.Space) error {
	meta, err := json.Marshal(spaceMeta{ID: space.ID, Controller: space.Controller})
	if err != nil {
		return fmt.Errorf("failed to encode space metadata: %w", err)
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.metaKey(space.UUID)),
		Body:        bytes.NewReader(meta),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload space metadata: %w", err)
	}

	b.log.Debug("Stored space metadata in S3",
		slog.String("bucket", b.bucketName),
		slog.String("space", space.UUID))
	return nil
}

// GetSpace returns the space or interfaces.ErrNotFound.
func (b *S3Backend) GetSpace(ctx context.Context, spaceUUID string) (interfaces.Space, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.metaKey(spaceUUID)),
	})
	if isNotFoundErr(err) {
		return interfaces.Space{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Space{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return interfaces.Space{}, fmt.Errorf("failed to read space metadata: %w", err)
	}

	var meta spaceMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return interfaces.Space{}, fmt.Errorf("corrupt space metadata for %s: %w", spaceUUID, err)
	}
	return interfaces.Space{UUID: spaceUUID, ID: meta.ID, Controller: meta.Controller}, nil
}

// DeleteSpace removes every object under the space prefix.
func (b *S3Backend) DeleteSpace(ctx context.Context, spaceUUID string) error {
	start := time.Now()
	if err := b.headSpace(ctx, spaceUUID); err != nil {
		return err
	}

	var deleteErr error
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(b.spacePrefix(spaceUUID)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		if len(page.Contents) == 0 {
			return true
		}
		objects := make([]*s3.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		_, deleteErr = b.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucketName),
			Delete: &s3.Delete{Objects: objects},
		})
		return deleteErr == nil
	})
	if err == nil {
		err = deleteErr
	}
	if err != nil {
		return fmt.Errorf("failed to delete space objects: %w", err)
	}

	b.log.Debug("Deleted space from S3",
		slog.String("bucket", b.bucketName),
		slog.String("space", spaceUUID),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// ListSpaces walks the space prefixes and returns the matching records.
// Metadata objects that vanish between the list and the read are skipped.
func (b *S3Backend) ListSpaces(ctx context.Context, controller string) ([]interfaces.Space, error) {
	prefix := b.prefix + "spaces/"

	var uuids []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucketName),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			uuid := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			uuids = append(uuids, uuid)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var result []interfaces.Space
	for _, uuid := range uuids {
		space, err := b.GetSpace(ctx, uuid)
		if err == interfaces.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if space.Controller == controller {
			result = append(result, space)
		}
	}
	return result, nil
}

// PutResource uploads the resource object with its native content type.
func (b *S3Backend) PutResource(ctx context.Context, spaceUUID, path string, res interfaces.Resource) error {
	if err := b.headSpace(ctx, spaceUUID); err != nil {
		return err
	}

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.resourceKey(spaceUUID, path)),
		Body:        bytes.NewReader(res.Content),
		ContentType: aws.String(res.ContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload resource: %w", err)
	}

	// A space delete may have raced the upload; re-check and undo so the
	// resource cannot outlive its space.
	if err := b.headSpace(ctx, spaceUUID); err != nil {
		b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucketName),
			Key:    aws.String(b.resourceKey(spaceUUID, path)),
		})
		return err
	}

	b.log.Debug("Stored resource in S3",
		slog.String("bucket", b.bucketName),
		slog.String("space", spaceUUID),
		slog.String("path", path),
		slog.Int("size", len(res.Content)))
	return nil
}

// GetResource returns the resource or interfaces.ErrNotFound.
func (b *S3Backend) GetResource(ctx context.Context, spaceUUID, path string) (interfaces.Resource, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.resourceKey(spaceUUID, path)),
	})
	if isNotFoundErr(err) {
		return interfaces.Resource{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Resource{}, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return interfaces.Resource{}, fmt.Errorf("failed to read resource body: %w", err)
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return interfaces.Resource{Content: content, ContentType: contentType}, nil
}

// DeleteResource removes the resource object; S3 deletes are idempotent so
// an absent path still succeeds.
func (b *S3Backend) DeleteResource(ctx context.Context, spaceUUID, path string) error {
	if err := b.headSpace(ctx, spaceUUID); err != nil {
		return err
	}

	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.resourceKey(spaceUUID, path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

// Available checks if the S3 backend is accessible by attempting to head
// the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}
