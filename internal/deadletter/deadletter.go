// Package deadletter implements the dead-letter sink of spec.md §4.4/§7:
// rows the storage worker could not persist after a per-row retry are
// gzip-JSON-batched and uploaded to an S3-compatible bucket for operator
// inspection. Directly adapted from the teacher's internal/storage/o3.go
// (O3Client, EnsureBucket, PutObject, key scheme), narrowed from "every log
// batch" to "only the rows that could not be persisted".
package deadletter

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/config"
)

// Row is one unresolvable item, decoded far enough to be inspected by an
// operator but not necessarily valid per the full LogEvent schema — that is
// often exactly why it ended up here.
type Row struct {
	ProjectID int64           `json:"project_id"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
}

// Sink uploads batches of dead-lettered rows to an S3-compatible bucket.
type Sink struct {
	client *s3.Client
	bucket string
}

// New builds a Sink. Returns (nil, nil) if cfg is unset, mirroring the
// teacher's NewO3Client nil-tolerant construction so an unconfigured
// dead-letter bucket degrades to "log and drop" rather than a startup
// failure.
func New(cfg config.DeadLetterConfig) (*Sink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &Sink{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return createErr
	}
	return nil
}

// Write gzip-JSON-encodes rows and uploads them under
// deadletter/{project_id}/{YYYY/MM/DD}/{batch_id}.json.gz. A nil Sink is a
// silent drop (with the caller expected to have logged the rows already),
// matching spec.md's "retained for operator inspection" rather than "must
// never be lost" — the queue's at-least-once delivery is the loss-prevention
// mechanism; dead-letter is a courtesy.
func (s *Sink) Write(ctx context.Context, projectID int64, rows []Row) error {
	if s == nil || len(rows) == 0 {
		return nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(rows); err != nil {
		return fmt.Errorf("encode dead-letter batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	key := keyFor(projectID, uuid.NewString())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	return err
}

func keyFor(projectID int64, batchID string) string {
	now := time.Now().UTC()
	return path.Join("deadletter", fmt.Sprintf("%d", projectID), now.Format("2006/01/02"), batchID+".json.gz")
}
