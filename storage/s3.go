package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, etc.
	AccessKeyID     string
	SecretAccessKey string
}

// ScreenshotArchive uploads captcha screenshots to S3-compatible storage so
// blocked-page evidence survives the ephemeral relay session.
type ScreenshotArchive struct {
	client *s3.Client
	bucket string
	cfg    S3Config
}

func NewScreenshotArchive(ctx context.Context, cfg S3Config) (*ScreenshotArchive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &ScreenshotArchive{
		client: client,
		bucket: cfg.Bucket,
		cfg:    cfg,
	}, nil
}

// Store uploads a PNG screenshot under captcha/<sessionID>.png.
func (a *ScreenshotArchive) Store(ctx context.Context, sessionID string, png []byte) (string, error) {
	key := "captcha/" + sessionID + ".png"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(png),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return a.publicURL(key), nil
}

func (a *ScreenshotArchive) publicURL(key string) string {
	if a.cfg.Endpoint != "" && strings.Contains(a.cfg.Endpoint, "digitaloceanspaces.com") {
		host := strings.TrimPrefix(a.cfg.Endpoint, "https://")
		return fmt.Sprintf("https://%s.%s/%s", a.bucket, host, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.cfg.Region, key)
}
