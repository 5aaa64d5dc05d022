// Package storage archives uploaded sapling images to S3-compatible object
// storage so awards stay auditable.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/priyanshukr01/EcoSap/internal/config"
)

const previewWidth = 320

// ImageStore archives award images and their previews.
type ImageStore interface {
	SaveImage(ctx context.Context, key string, body []byte, contentType string) error
}

type s3Store struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewS3Store builds an S3-backed image store, creating the bucket when it
// does not exist yet (MinIO-friendly for local development).
func NewS3Store(ctx context.Context, cfg *config.S3Config, logger *zap.Logger) (ImageStore, error) {
	endpointURL := cfg.Endpoint
	if endpointURL != "" && !strings.Contains(endpointURL, "://") {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpointURL = scheme + "://" + endpointURL
	}

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if endpointURL != "" {
			return aws.Endpoint{
				URL:               endpointURL,
				HostnameImmutable: true,
				Source:            aws.EndpointSourceCustom,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	store := &s3Store{
		client: client,
		bucket: cfg.BucketName,
		logger: logger.Named("s3_store"),
	}

	if err := store.ensureBucketExists(ctx); err != nil {
		logger.Warn("failed to ensure bucket exists", zap.Error(err))
	}

	return store, nil
}

func (s *s3Store) ensureBucketExists(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	s.logger.Info("creating bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

// SaveImage uploads the original image plus a small preview alongside it.
// The preview is best-effort: an undecodable image still gets archived.
func (s *s3Store) SaveImage(ctx context.Context, key string, body []byte, contentType string) error {
	if err := s.upload(ctx, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return err
	}

	preview, err := buildPreview(body)
	if err != nil {
		s.logger.Warn("failed to build preview",
			zap.String("key", key),
			zap.Error(err))
		return nil
	}
	previewKey := previewKeyFor(key)
	if err := s.upload(ctx, previewKey, bytes.NewReader(preview), int64(len(preview)), "image/jpeg"); err != nil {
		s.logger.Warn("failed to upload preview",
			zap.String("key", previewKey),
			zap.Error(err))
	}
	return nil
}

func (s *s3Store) upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	return err
}

// buildPreview downscales the image to a fixed-width JPEG thumbnail.
func buildPreview(body []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, previewWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func previewKeyFor(key string) string {
	ext := path.Ext(key)
	return fmt.Sprintf("%s_preview.jpg", strings.TrimSuffix(key, ext))
}
