package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config points the store at an S3-compatible endpoint. Path-style
// addressing is used so self-hosted gateways work without wildcard DNS.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// s3API is the slice of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store persists file-typed job inputs in object storage. Database rows
// carry only the object key; the payload never touches Postgres.
type Store struct {
	client s3API
	bucket string
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Store {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(cfg.Endpoint),
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	})
	return newStore(client, cfg.Bucket, logger)
}

func newStore(client s3API, bucket string, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "filestore").Logger(),
	}
}

// inputKey builds the object key for one file-typed variable of one run.
func inputKey(resultID, varName string) string {
	return path.Join("job-inputs", resultID, varName)
}

// SaveInput uploads one file input and returns its object key, which is
// what gets stored in the run's arguments.
func (s *Store) SaveInput(ctx context.Context, resultID, varName, filename string, data []byte) (string, error) {
	key := inputKey(resultID, varName)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"filename": filename},
	})
	if err != nil {
		return "", fmt.Errorf("store input %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("input stored")
	return key, nil
}

// Open streams a stored input back to a job body. The caller closes the
// reader.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes a stored input. Missing objects are not an error, so
// cleanup after a failed run may be retried safely.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !strings.Contains(err.Error(), "NoSuchKey") {
		return fmt.Errorf("delete input %s: %w", key, err)
	}
	return nil
}
