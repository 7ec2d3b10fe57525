package imagehost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// BaseURLHost maps local slide files onto an already-public static host.
// The render output directory layout is not fixed, so several candidate
// URL shapes are probed and the first one serving an image wins.
type BaseURLHost struct {
	baseURL    string
	httpClient *http.Client
}

func NewBaseURLHost(baseURL string, httpClient *http.Client) *BaseURLHost {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &BaseURLHost{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (h *BaseURLHost) candidates(path string) []string {
	name := fileName(path)
	return []string{
		h.baseURL + "/" + name,
		h.baseURL + "/slides/" + name,
		h.baseURL + "/output/" + name,
	}
}

// probe checks that a URL serves an image. HEAD first, GET as a fallback
// since some static hosts reject HEAD.
func (h *BaseURLHost) probe(ctx context.Context, url string) bool {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return false
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK &&
			strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
			return true
		}
		if resp.StatusCode == http.StatusNotFound {
			return false
		}
	}
	return false
}

func (h *BaseURLHost) ResolveAll(ctx context.Context, paths []string) ([]string, error) {
	urls := make([]string, 0, len(paths))
	for _, path := range paths {
		resolved := ""
		for _, candidate := range h.candidates(path) {
			if h.probe(ctx, candidate) {
				resolved = candidate
				break
			}
		}
		if resolved == "" {
			return nil, fmt.Errorf("slide %q is not reachable under %s", fileName(path), h.baseURL)
		}
		slog.Debug("resolved slide url", "path", path, "url", resolved)
		urls = append(urls, resolved)
	}
	return urls, nil
}
