package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dvalenciano/igflow/internal/models"
)

// Client talks to the external generation service over HTTP. The service
// owns everything creative (topic research, copywriting, slide rendering);
// this client only moves documents back and forth.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("generator: base URL is not configured")
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

type researchRequest struct {
	Topic string `json:"topic,omitempty"`
}

type contentRequest struct {
	TopicDoc models.Document `json:"topic_doc"`
	Template *int            `json:"template,omitempty"`
}

type strategyRequest struct {
	ContentDoc models.Document `json:"content_doc"`
}

type slidesRequest struct {
	ContentDoc models.Document `json:"content_doc"`
	Template   *int            `json:"template,omitempty"`
}

type slidesResponse struct {
	Paths []string `json:"paths"`
}

func (c *Client) Research(ctx context.Context, topic string) (models.Document, error) {
	var doc models.Document
	if err := c.post(ctx, "/research", researchRequest{Topic: topic}, &doc); err != nil {
		return nil, err
	}
	if doc.TopicText() == "" {
		return nil, errors.New("generator: research returned no topic")
	}
	return doc, nil
}

func (c *Client) GenerateContent(ctx context.Context, topicDoc models.Document, template *int) (models.Document, error) {
	var doc models.Document
	if err := c.post(ctx, "/content", contentRequest{TopicDoc: topicDoc, Template: template}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) BuildStrategy(ctx context.Context, contentDoc models.Document) (models.Document, error) {
	var doc models.Document
	if err := c.post(ctx, "/strategy", strategyRequest{ContentDoc: contentDoc}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) RenderSlides(ctx context.Context, contentDoc models.Document, template *int) ([]string, error) {
	var resp slidesResponse
	if err := c.post(ctx, "/slides", slidesRequest{ContentDoc: contentDoc, Template: template}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Paths) == 0 {
		return nil, errors.New("generator: slide rendering returned no images")
	}
	return resp.Paths, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("generator: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("generator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generator: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("generator: %s returned %d: %s", path, resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("generator: decode %s response: %w", path, err)
	}
	return nil
}
