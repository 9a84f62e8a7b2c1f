package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// archiveRecord is the object stored for each transition.
type archiveRecord struct {
	Station    string           `json:"station"`
	Serial     string           `json:"serial"`
	Transition types.Transition `json:"transition"`
}

// newS3Client creates an S3 client with static credentials.
// A custom endpoint switches to path-style addressing for S3-compatible stores.
func newS3Client(cfg *types.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// archiveKey returns prefix/serial/YYYY/MM/DD/<timestamp>-<id>.json.
func archiveKey(prefix, serial string, t *types.Transition) string {
	ts := t.Timestamp.UTC()
	name := fmt.Sprintf("%s-%s-%s.json", ts.Format("20060102T150405Z"), t.To, t.ID)
	return path.Join(prefix, serial, ts.Format("2006/01/02"), name)
}

// ArchiveTransition stores a transition as a JSON object.
func ArchiveTransition(ctx context.Context, cfg *types.S3Config, station, serial string, t *types.Transition) error {
	if !cfg.IsConfigured() {
		return nil
	}

	body, err := json.Marshal(archiveRecord{Station: station, Serial: serial, Transition: *t})
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	_, err = newS3Client(cfg).PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(archiveKey(cfg.Prefix, serial, t)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload archive record: %w", err)
	}
	return nil
}

// TestS3 verifies bucket access by uploading and deleting a probe object.
func TestS3(ctx context.Context, cfg *types.S3Config) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("%w: s3 bucket and credentials", ErrNotConfigured)
	}

	client := newS3Client(cfg)
	key := path.Join(cfg.Prefix, fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	content := []byte(AppName + " connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", key, "error", err)
	}
	return nil
}
