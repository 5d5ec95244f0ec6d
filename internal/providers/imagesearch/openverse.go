package imagesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"studyreel/internal/storage"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPageSize       = 5
	maxDownloadBytes      = 20 << 20
)

// Image is one Openverse search result.
type Image struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	License   string `json:"license"`
	Creator   string `json:"creator"`
	Source    string `json:"source"`
}

// Client queries the Openverse image search API. No API key is required for
// anonymous usage; rate limits are generous enough for per-scene lookups.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient overrides the HTTP client (useful for tests).
func (c *Client) WithHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

type searchResponse struct {
	ResultCount int     `json:"result_count"`
	Results     []Image `json:"results"`
}

// Search returns up to limit commercially-licensed images for the query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Image, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("imagesearch: query required")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("license_type", "commercial")
	params.Set("page_size", strconv.Itoa(limit))

	endpoint := c.baseURL + "/images/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesearch: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagesearch: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagesearch: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, fmt.Errorf("imagesearch: http %d: %s", resp.StatusCode, snippet)
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("imagesearch: decode response: %w", err)
	}

	results := make([]Image, 0, len(parsed.Results))
	for _, img := range parsed.Results {
		if strings.TrimSpace(img.URL) == "" {
			continue
		}
		results = append(results, img)
	}
	return results, nil
}

// Download fetches an image URL into dest. Oversized or non-2xx responses
// are rejected rather than written.
func (c *Client) Download(ctx context.Context, imageURL, dest string) error {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return errors.New("imagesearch: image url required")
	}
	if dest == "" {
		return errors.New("imagesearch: destination required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("imagesearch: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imagesearch: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("imagesearch: download http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return fmt.Errorf("imagesearch: read image: %w", err)
	}
	if len(data) == 0 {
		return errors.New("imagesearch: empty image payload")
	}
	if len(data) > maxDownloadBytes {
		return fmt.Errorf("imagesearch: image exceeds %d bytes", maxDownloadBytes)
	}
	if err := storage.WriteFileAtomic(dest, data, 0o644); err != nil {
		return fmt.Errorf("imagesearch: write image: %w", err)
	}
	return nil
}
