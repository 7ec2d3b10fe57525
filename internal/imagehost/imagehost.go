// Package imagehost turns locally rendered slide files into public HTTPS
// URLs the Graph API can fetch. Two backends: a static base URL in front of
// the render output, or direct upload to Cloudflare R2.
package imagehost

import (
	"context"
	"fmt"
	"strings"

	configs "github.com/dvalenciano/igflow/configs"
)

// Host resolves local slide paths to publicly fetchable image URLs. The
// returned slice preserves slide order.
type Host interface {
	ResolveAll(ctx context.Context, paths []string) ([]string, error)
}

// New picks the backend from config: R2 when credentials are present,
// otherwise the public base URL.
func New(cfg *configs.Config) (Host, error) {
	if cfg.R2.AccountID != "" && cfg.R2.AccessKey != "" && cfg.R2.SecretKey != "" {
		return NewR2Host(cfg), nil
	}
	if cfg.PublicImageBaseURL != "" {
		return NewBaseURLHost(cfg.PublicImageBaseURL, nil), nil
	}
	return nil, fmt.Errorf("no image host configured: set R2 credentials or PUBLIC_IMAGE_BASE_URL")
}

func fileName(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
