// Package blobstore is the S3-compatible blob store adapter backing
// workspace export, skill/attachment staging, and presigned file access.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config configures the S3 adapter per the S3_* env vars.
type Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	Bucket          string
	ForcePathStyle  bool
	PresignExpires  time.Duration
	PublicEndpoint  string
}

// Store wraps an S3 client scoped to a single bucket.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     Config
}

// New builds a Store from cfg, using static credentials when provided and
// falling back to the default AWS credential chain otherwise.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.PresignExpires <= 0 {
		cfg.PresignExpires = 15 * time.Minute
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}, nil
}

// PutObject uploads data under key with a content type guessed from its
// extension when contentType is empty.
func (s *Store) PutObject(ctx context.Context, key string, data io.Reader, contentType string) error {
	if contentType == "" {
		contentType = guessContentType(key)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PutBytes uploads a fixed byte slice and returns its sha256 hex digest.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	sum := sha256.Sum256(data)
	if err := s.PutObject(ctx, key, strings.NewReader(string(data)), contentType); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// GetObject downloads key's full body.
func (s *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

// ListPrefix lists all object keys under prefix.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// DeletePrefix removes every object under prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.ListPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	return nil
}

// PresignGetURL returns a presigned GET URL for key, inline-disposition with
// the file's guessed MIME type, valid for the store's configured expiry. If
// PublicEndpoint is set, the host of the generated URL is rewritten to it
// (used when the bucket is reachable at a different address from clients
// than from the Manager process itself).
func (s *Store) PresignGetURL(ctx context.Context, key string) (string, error) {
	contentType := guessContentType(key)
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.cfg.Bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String("inline"),
		ResponseContentType:        aws.String(contentType),
	}, s3.WithPresignExpires(s.cfg.PresignExpires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	if s.cfg.PublicEndpoint == "" {
		return req.URL, nil
	}
	return rewriteHost(req.URL, s.cfg.PublicEndpoint), nil
}

func guessContentType(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// rewriteHost swaps rawURL's scheme+host for publicEndpoint's, preserving
// path and query.
func rewriteHost(rawURL, publicEndpoint string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return publicEndpoint
	}
	return strings.TrimSuffix(publicEndpoint, "/") + rest[slash:]
}
