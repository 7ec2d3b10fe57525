package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

const (
	containerPollInterval = 5 * time.Second
	containerPollTimeout  = 3 * time.Minute
)

// createCarouselItem creates one child media container for an image URL and
// returns its container id.
func (c *GraphClient) createCarouselItem(ctx context.Context, imageURL string) (string, error) {
	body, err := c.graphPOST(ctx, "/"+c.accountID+"/media", map[string]any{
		"image_url":        imageURL,
		"is_carousel_item": true,
	})
	if err != nil {
		return "", err
	}
	return extractMetaID(body, "/media (carousel item)")
}

// waitContainerReady polls a container until Meta reports it FINISHED.
// ERROR and EXPIRED are terminal; anything else keeps polling until timeout.
func (c *GraphClient) waitContainerReady(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(containerPollTimeout)
	params := url.Values{"fields": {"status_code,status"}}

	for {
		body, err := c.graphGET(ctx, "/"+containerID, params)
		if err != nil {
			return err
		}

		var status struct {
			StatusCode string `json:"status_code"`
			Status     string `json:"status"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return fmt.Errorf("decode container status: %w", err)
		}

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("container %s ended in %s: %s", containerID, status.StatusCode, status.Status)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("container %s not ready after %s (last status %s)", containerID, containerPollTimeout, status.StatusCode)
		}
		if err := c.sleep(ctx, containerPollInterval); err != nil {
			return err
		}
	}
}

// createCarouselContainer creates the parent CAROUSEL container from ready
// child ids.
func (c *GraphClient) createCarouselContainer(ctx context.Context, childIDs []string, caption string) (string, error) {
	body, err := c.graphPOST(ctx, "/"+c.accountID+"/media", map[string]any{
		"media_type": "CAROUSEL",
		"children":   childIDs,
		"caption":    caption,
	})
	if err != nil {
		return "", err
	}
	return extractMetaID(body, "/media (carousel)")
}

// PublishCarousel runs the three-step Graph publish flow: one child container
// per image, the parent container, then media_publish. It returns the final
// Instagram media id.
//
// The caller must treat a rate-limit or timeout failure here as ambiguous:
// the media_publish step can succeed on Meta's side while the response is
// lost, so any error from this method needs a reconciliation pass before
// being recorded as a failure.
func (c *GraphClient) PublishCarousel(ctx context.Context, imageURLs []string, caption string) (string, error) {
	if len(imageURLs) < 2 || len(imageURLs) > 10 {
		return "", fmt.Errorf("carousel needs 2 to 10 images, got %d", len(imageURLs))
	}

	childIDs := make([]string, 0, len(imageURLs))
	for i, imageURL := range imageURLs {
		childID, err := c.createCarouselItem(ctx, imageURL)
		if err != nil {
			return "", fmt.Errorf("carousel item %d/%d: %w", i+1, len(imageURLs), err)
		}
		childIDs = append(childIDs, childID)
	}

	for _, childID := range childIDs {
		if err := c.waitContainerReady(ctx, childID); err != nil {
			return "", err
		}
	}

	containerID, err := c.createCarouselContainer(ctx, childIDs, caption)
	if err != nil {
		return "", err
	}
	if err := c.waitContainerReady(ctx, containerID); err != nil {
		return "", err
	}

	body, err := c.graphPOST(ctx, "/"+c.accountID+"/media_publish", map[string]any{
		"creation_id": containerID,
	})
	if err != nil {
		return "", err
	}

	mediaID, err := extractMetaID(body, "/media_publish")
	if err != nil {
		return "", err
	}

	slog.Info("published carousel", "media_id", mediaID, "slides", len(imageURLs))
	return mediaID, nil
}
