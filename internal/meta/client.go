package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultGraphHost = "https://graph.facebook.com"

// GraphClient talks to the Meta Graph API for a single Instagram business
// account. All calls retry transient failures with exponential backoff;
// rate-limit responses get a slower pace.
type GraphClient struct {
	baseURL     string
	accountID   string
	accessToken string
	classifier  *Classifier
	httpClient  *http.Client

	maxRetries int
	baseDelay  time.Duration
	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGraphClient(accountID, accessToken, apiVersion string, classifier *Classifier) *GraphClient {
	if apiVersion == "" {
		apiVersion = "v25.0"
	}
	return &GraphClient{
		baseURL:     defaultGraphHost + "/" + apiVersion,
		accountID:   accountID,
		accessToken: accessToken,
		classifier:  classifier,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		maxRetries:  4,
		baseDelay:   2 * time.Second,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type graphEnvelope struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// decodeGraphError returns a *GraphError when the response body carries the
// Graph error envelope, even on HTTP 200. Meta sometimes returns 200 with an
// error body.
func decodeGraphError(path string, statusCode int, body []byte) *GraphError {
	var env graphEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		if statusCode >= 400 {
			msg := string(body)
			if len(msg) > 500 {
				msg = msg[:500]
			}
			return &GraphError{Path: path, StatusCode: statusCode, Message: msg}
		}
		return nil
	}
	return &GraphError{
		Path:       path,
		StatusCode: statusCode,
		Code:       env.Error.Code,
		Subcode:    env.Error.ErrorSubcode,
		Transient:  env.Error.IsTransient,
		FBTraceID:  env.Error.FBTraceID,
		Message:    env.Error.Message,
	}
}

func (c *GraphClient) do(ctx context.Context, req *http.Request, path string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("graph %s: read body: %w", path, err)
	}
	if ge := decodeGraphError(path, resp.StatusCode, body); ge != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
				ge.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, ge
	}
	return body, nil
}

// callWithRetry runs fn up to maxRetries+1 times, backing off exponentially
// with jitter. Rate-limit errors switch to a multi-minute pace since the
// window Meta enforces is long.
func (c *GraphClient) callWithRetry(ctx context.Context, path string, fn func() ([]byte, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		body, err := fn()
		if err == nil {
			return body, nil
		}
		lastErr = err

		ge, _ := err.(*GraphError)
		if ge != nil && !c.classifier.Transient(ge) && !c.classifier.RateLimited(ge) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.baseDelay * (1 << attempt)
		if ge != nil && c.classifier.RateLimited(ge) {
			delay = 3 * time.Minute * time.Duration(attempt+1)
		}
		if ge != nil && ge.RetryAfter > delay {
			delay = ge.RetryAfter
		}
		delay += time.Duration(rand.Int63n(int64(time.Second)))

		slog.Warn("graph call failed, retrying",
			"path", path,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

func (c *GraphClient) graphGET(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.accessToken)
	fullURL := c.baseURL + path + "?" + params.Encode()

	return c.callWithRetry(ctx, path, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
		if err != nil {
			return nil, err
		}
		return c.do(ctx, req, path)
	})
}

func (c *GraphClient) graphPOST(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["access_token"] = c.accessToken
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return c.callWithRetry(ctx, path, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(ctx, req, path)
	})
}

// extractMetaID validates an id field from a Graph response. Meta has been
// seen returning "0" for a failed container creation, which later calls
// accept and then break on, so it is rejected here.
func extractMetaID(body []byte, path string) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("graph %s: decode id: %w", path, err)
	}
	id := strings.TrimSpace(result.ID)
	if id == "" || id == "0" {
		return "", fmt.Errorf("graph %s: returned invalid id=%q", path, id)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("graph %s: returned invalid id=%q", path, id)
		}
	}
	return id, nil
}

// RecentMedia fetches the newest media objects on the account, newest first.
func (c *GraphClient) RecentMedia(ctx context.Context, limit int) ([]MediaItem, error) {
	if limit <= 0 {
		limit = 25
	}
	params := url.Values{}
	params.Set("fields", "id,caption,permalink,timestamp,media_type,media_product_type")
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.graphGET(ctx, "/"+c.accountID+"/media", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []MediaItem `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode media list: %w", err)
	}
	return result.Data, nil
}

// MediaLiveness checks whether a published media object still exists on
// Instagram. It returns alive=false only on a definite not-found signal.
func (c *GraphClient) MediaLiveness(ctx context.Context, mediaID string) (alive bool, reason string, err error) {
	params := url.Values{}
	params.Set("fields", "id")

	_, err = c.graphGET(ctx, "/"+mediaID, params)
	if err == nil {
		return true, "", nil
	}

	var ge *GraphError
	if geTyped, ok := err.(*GraphError); ok {
		ge = geTyped
	}
	if ge != nil && (ge.StatusCode == http.StatusNotFound || ge.Code == 100) {
		return false, ge.Message, nil
	}
	return false, "", err
}

// MediaMetrics fetches the insight counters for a media object. Missing
// metrics stay nil so callers can tell "zero" from "not reported".
func (c *GraphClient) MediaMetrics(ctx context.Context, mediaID string) (*MediaMetrics, error) {
	params := url.Values{}
	params.Set("metric", "reach,likes,comments,saved,shares,total_interactions,views")

	body, err := c.graphGET(ctx, "/"+mediaID+"/insights", params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value float64 `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}

	m := &MediaMetrics{Raw: make(map[string]float64)}
	for _, entry := range result.Data {
		if len(entry.Values) == 0 {
			continue
		}
		v := entry.Values[0].Value
		m.Raw[entry.Name] = v
		switch entry.Name {
		case "reach":
			m.Reach = int64Ptr(int64(v))
		case "likes":
			m.Likes = int64Ptr(int64(v))
		case "comments":
			m.Comments = int64Ptr(int64(v))
		case "saved":
			m.Saves = int64Ptr(int64(v))
		case "shares":
			m.Shares = int64Ptr(int64(v))
		case "total_interactions":
			m.TotalInteractions = int64Ptr(int64(v))
		case "views":
			m.Views = int64Ptr(int64(v))
		}
	}
	return m, nil
}

func int64Ptr(v int64) *int64 { return &v }
