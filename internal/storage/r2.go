package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	config "github.com/postloom/postloom/configs"
)

// Uploader externalizes media payloads to durable storage. The dispatcher
// depends on this interface so tests can fake it.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// R2Storage uploads to a Cloudflare R2 bucket through the S3 API.
type R2Storage struct {
	cfg config.Config
}

func NewR2Storage(cfg config.Config) *R2Storage {
	return &R2Storage{cfg: cfg}
}

func (r *R2Storage) client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r.cfg.R2.AccessKey, r.cfg.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.cfg.R2.AccountID))
	}), nil
}

// Upload stores the object and returns its public fetchable URL.
func (r *R2Storage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	client, err := r.client(ctx)
	if err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return fmt.Sprintf("%s/%s", r.cfg.R2.PublicURL, key), nil
}
