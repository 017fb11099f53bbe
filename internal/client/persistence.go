package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

// Persistence is the stroke store as seen by a board. The server's
// stores satisfy it directly; APIClient reaches one over HTTP.
type Persistence interface {
	GetSnapshot(ctx context.Context, roomID string) ([]protocol.Shape, error)
	Commit(ctx context.Context, roomID string, shape protocol.Shape) error
	Clear(ctx context.Context, roomID string) error
}

// APIClient talks to the server's shape endpoints.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *APIClient) shapesURL(roomID string) string {
	return c.baseURL + "/api/rooms/" + url.PathEscape(roomID) + "/shapes"
}

func (c *APIClient) GetSnapshot(ctx context.Context, roomID string) ([]protocol.Shape, error) {
	var records []protocol.Record
	if err := c.do(ctx, http.MethodGet, c.shapesURL(roomID), nil, &records); err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	shapes := make([]protocol.Shape, len(records))
	for i, r := range records {
		shapes[i] = r.Shape
	}
	return shapes, nil
}

func (c *APIClient) Commit(ctx context.Context, roomID string, shape protocol.Shape) error {
	record := protocol.Record{RoomID: roomID, Shape: shape}
	target := c.shapesURL(roomID) + "/" + url.PathEscape(shape.ID)
	if err := c.do(ctx, http.MethodPut, target, record, nil); err != nil {
		return fmt.Errorf("commit shape %s: %w", shape.ID, err)
	}
	return nil
}

func (c *APIClient) Clear(ctx context.Context, roomID string) error {
	if err := c.do(ctx, http.MethodDelete, c.shapesURL(roomID), nil, nil); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%w: %s %s: %s", ErrPersistence, method, target, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrPersistence, err)
	}
	return nil
}
