package socrata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultChunkSize = 1000

// UpsertResult mirrors the summary the portal returns for an upsert.
type UpsertResult struct {
	Created int `json:"Rows Created"`
	Updated int `json:"Rows Updated"`
	Deleted int `json:"Rows Deleted"`
	Errors  int `json:"Errors"`
}

func (r *UpsertResult) add(o UpsertResult) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Deleted += o.Deleted
	r.Errors += o.Errors
}

// Client upserts rows into a portal dataset keyed by its row identifier.
type Client struct {
	baseURL    string
	appToken   string
	username   string
	password   string
	chunkSize  int
	httpClient *http.Client
}

func NewClient(domainName, appToken, username, password string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(domainName) == "" {
		return nil, errors.New("socrata domain is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimSuffix(domainName, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}

	return &Client{
		baseURL:    baseURL,
		appToken:   appToken,
		username:   username,
		password:   password,
		chunkSize:  defaultChunkSize,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// WithHTTPClient overrides the underlying HTTP client. Primarily useful for testing.
func (c *Client) WithHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

func (c *Client) WithChunkSize(n int) {
	if n > 0 {
		c.chunkSize = n
	}
}

// Upsert posts rows in chunks and sums the per-chunk results. It stops at the
// first failing chunk.
func (c *Client) Upsert(ctx context.Context, resourceID string, rows []Row) (UpsertResult, error) {
	var total UpsertResult

	for start := 0; start < len(rows); start += c.chunkSize {
		end := min(start+c.chunkSize, len(rows))

		res, err := c.upsertChunk(ctx, resourceID, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("upsert rows %d-%d to %s: %w", start, end, resourceID, err)
		}
		total.add(res)
	}

	return total, nil
}

func (c *Client) upsertChunk(ctx context.Context, resourceID string, rows []Row) (UpsertResult, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("marshal rows: %w", err)
	}

	endpoint := fmt.Sprintf("%s/resource/%s.json", c.baseURL, resourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return UpsertResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return UpsertResult{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result UpsertResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UpsertResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
