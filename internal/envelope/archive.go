package envelope

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveSink persists finalized envelope bodies to a durable store for
// audit purposes, independent of the gateway's own response path. It is
// optional: a nil *ArchiveSink silently skips archiving.
type ArchiveSink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiveSink creates a sink writing to bucket under prefix using an
// already-configured S3 client (credentials and region resolved by the
// caller via aws-sdk-go-v2/config, as with any other AWS SDK consumer).
func NewArchiveSink(client *s3.Client, bucket, prefix string) *ArchiveSink {
	return &ArchiveSink{client: client, bucket: bucket, prefix: prefix}
}

// Archive uploads body under a key derived from sessionID and the current
// time, so archived envelopes sort chronologically within a session
// prefix.
func (a *ArchiveSink) Archive(ctx context.Context, sessionID, command string, body []byte) error {
	if a == nil {
		return nil
	}

	key := fmt.Sprintf("%s/%s/%s-%s.bin", a.prefix, sessionID, time.Now().UTC().Format("20060102T150405.000000000Z"), command)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("envelope: archive upload: %w", err)
	}
	return nil
}
