// Package canvas talks to the Canvas LMS REST API. The workflow engine
// only needs it for drift detection: finding items that changed on the
// remote course while a review session was open.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ItemRef identifies a course item by its Canvas id and type.
type ItemRef struct {
	ID   string
	Type string
}

// Drift records an item that was modified remotely after a session
// started. Merges proceed anyway; drift is reported, not enforced.
type Drift struct {
	ItemID          string    `json:"item_id"`
	ItemType        string    `json:"item_type"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at"`
}

// SyncChecker reports remote modifications since a baseline time.
type SyncChecker interface {
	CheckDrift(ctx context.Context, courseID string, items []ItemRef, since time.Time) ([]Drift, error)
}

// NoopChecker is used when no Canvas credentials are configured. It
// reports no drift.
type NoopChecker struct{}

func (NoopChecker) CheckDrift(_ context.Context, _ string, _ []ItemRef, _ time.Time) ([]Drift, error) {
	return nil, nil
}

// Client is an HTTP SyncChecker against the Canvas REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Canvas API client. baseURL is the instance root,
// e.g. https://canvas.example.edu.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// endpoint maps item types to their Canvas REST resource. Item ids are
// stored in the composite type:id form; the Canvas path wants the bare
// content id, so the type prefix is stripped before splicing.
func endpoint(courseID string, ref ItemRef) (string, error) {
	id := strings.TrimPrefix(ref.ID, ref.Type+":")
	switch ref.Type {
	case "pages":
		return fmt.Sprintf("/api/v1/courses/%s/pages/%s", courseID, id), nil
	case "quizzes":
		return fmt.Sprintf("/api/v1/courses/%s/quizzes/%s", courseID, id), nil
	case "assignments":
		return fmt.Sprintf("/api/v1/courses/%s/assignments/%s", courseID, id), nil
	case "rubrics":
		return fmt.Sprintf("/api/v1/courses/%s/rubrics/%s", courseID, id), nil
	default:
		return "", fmt.Errorf("unknown item type %q", ref.Type)
	}
}

func (c *Client) CheckDrift(ctx context.Context, courseID string, items []ItemRef, since time.Time) ([]Drift, error) {
	var drifts []Drift
	for _, ref := range items {
		updatedAt, err := c.fetchUpdatedAt(ctx, courseID, ref)
		if err != nil {
			return nil, fmt.Errorf("check drift for %s %s: %w", ref.Type, ref.ID, err)
		}
		if updatedAt.After(since) {
			drifts = append(drifts, Drift{
				ItemID:          ref.ID,
				ItemType:        ref.Type,
				RemoteUpdatedAt: updatedAt,
			})
		}
	}
	return drifts, nil
}

func (c *Client) fetchUpdatedAt(ctx context.Context, courseID string, ref ItemRef) (time.Time, error) {
	path, err := endpoint(courseID, ref)
	if err != nil {
		return time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		// Item deleted remotely counts as drift from the epoch of now.
		return time.Now().UTC(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("canvas API returned %d", resp.StatusCode)
	}

	var body struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("decode canvas response: %w", err)
	}
	return body.UpdatedAt, nil
}
