// Package reliability holds the operational safety nets: the cold archive
// of terminal executions and the periodic database maintenance job.
package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
	"github.com/aristath/tradewinds/internal/pipeline"
)

// ArchiveClient wraps an S3-compatible object store. Works against AWS S3
// and against R2/MinIO style endpoints via a custom base endpoint.
type ArchiveClient struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewArchiveClient creates an archive client. Endpoint may be empty for
// plain AWS S3.
func NewArchiveClient(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string, log zerolog.Logger) (*ArchiveClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if region == "" {
		region = "auto"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive credentials: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &ArchiveClient{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		log:      log.With().Str("client", "archive").Logger(),
	}, nil
}

// Put uploads one object.
func (c *ArchiveClient) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Archiver moves terminal execution rows into cold storage before the row
// cleanup deletes them. One object per batch, gzipped JSON lines.
type Archiver struct {
	client *ArchiveClient
	execs  *pipeline.ExecutionRepository
	log    zerolog.Logger
}

// NewArchiver creates the archiver.
func NewArchiver(client *ArchiveClient, execs *pipeline.ExecutionRepository, log zerolog.Logger) *Archiver {
	return &Archiver{
		client: client,
		execs:  execs,
		log:    log.With().Str("service", "archiver").Logger(),
	}
}

const archiveBatchSize = 500

// ArchiveOlderThan uploads terminal executions completed before the cutoff
// and returns how many were archived. Rows are only safe to delete after
// this returns without error.
func (a *Archiver) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var total int
	for {
		batch, err := a.execs.ListTerminalOlderThan(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		key := archiveKey(time.Now().UTC())
		body, err := encodeBatch(batch)
		if err != nil {
			return total, err
		}
		if err := a.client.Put(ctx, key, body, "application/gzip"); err != nil {
			return total, err
		}

		// Delete exactly what was uploaded so a partial failure never
		// loses rows that were not archived. The list is created_at
		// ascending, so the last row bounds the batch.
		deleteCutoff := batch[len(batch)-1].CreatedAt.Add(time.Microsecond)
		if deleteCutoff.After(cutoff) {
			deleteCutoff = cutoff
		}
		deleted, err := a.execs.DeleteTerminalOlderThan(ctx, deleteCutoff)
		if err != nil {
			return total, err
		}

		total += len(batch)
		a.log.Info().
			Str("key", key).
			Int("archived", len(batch)).
			Int64("deleted", deleted).
			Msg("Execution batch archived")

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

func archiveKey(now time.Time) string {
	return fmt.Sprintf("executions/%04d/%02d/%02d/archive-%d.jsonl.gz",
		now.Year(), now.Month(), now.Day(), now.UnixNano())
}

// encodeBatch renders executions as gzipped JSON lines.
func encodeBatch(batch []*domain.Execution) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode execution %s: %w", e.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
