package imagehost

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "github.com/dvalenciano/igflow/configs"
)

// R2Host uploads rendered slides to Cloudflare R2 and serves them through
// the bucket's public URL.
type R2Host struct {
	config *cfg.Config
}

func NewR2Host(c *cfg.Config) *R2Host {
	return &R2Host{config: c}
}

func (r *R2Host) client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r.config.R2.AccessKey, r.config.R2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Error(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.config.R2.AccountID))
	}), nil
}

func (r *R2Host) upload(ctx context.Context, client *s3.Client, path string) (string, error) {
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read slide %s: %w", path, err)
	}

	fileType, err := filetype.Match(fileBytes)
	if err != nil || fileType == types.Unknown {
		return "", fmt.Errorf("slide %s has an unrecognized file type", path)
	}
	if fileType.MIME.Type != "image" {
		return "", fmt.Errorf("slide %s is %s, not an image", path, fileType.MIME.Value)
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := "slides/" + id + "." + fileType.Extension

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(fileBytes),
		ContentType: aws.String(fileType.MIME.Value),
	})
	if err != nil {
		slog.Error(err.Error())
		return "", fmt.Errorf("upload slide %s: %w", path, err)
	}

	return strings.TrimRight(r.config.R2.PublicBaseURL, "/") + "/" + key, nil
}

func (r *R2Host) ResolveAll(ctx context.Context, paths []string) ([]string, error) {
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(paths))
	for _, path := range paths {
		url, err := r.upload(ctx, client, path)
		if err != nil {
			return nil, err
		}
		slog.Info("uploaded slide", "path", path, "url", url)
		urls = append(urls, url)
	}
	return urls, nil
}
