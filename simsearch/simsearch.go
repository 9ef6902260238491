// Package simsearch is the client for the clothing similarity-search
// service. A captured product image is posted as multipart form data and the
// service answers with visually similar catalogue items.
//
// Two deployments of the service exist with different response envelopes
// ("matches" vs "results"); the client accepts both.
package simsearch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Match is one similar catalogue item. ImageURL is always populated after
// normalisation; ImagePath is the service-relative path it came from.
type Match struct {
	Score     float64 `json:"score"`
	ImagePath string  `json:"image_path,omitempty"`
	ImageURL  string  `json:"image_url,omitempty"`
	Label     string  `json:"label,omitempty"`
}

// Client talks to one similarity-search endpoint.
type Client struct {
	endpoint   string
	assetsBase string
	client     *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Client) { s.client = c }
}

// WithAssetsBase overrides the derived static-assets base URL used to
// absolutise match image paths.
func WithAssetsBase(base string) Option {
	return func(s *Client) { s.assetsBase = base }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Client) { s.logger = l }
}

// New creates a Client for the given endpoint. The assets base defaults to
// the endpoint with its API path stripped.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		assetsBase: DeriveAssetsBase(endpoint),
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var recommendPathRe = regexp.MustCompile(`/api/recommend/?$`)

// DeriveAssetsBase strips the recommendation API path from an endpoint URL,
// leaving the base the service serves catalogue images from. Returns ""
// when the endpoint does not parse.
func DeriveAssetsBase(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Path = recommendPathRe.ReplaceAllString(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// DecodeDataURL splits a base64 data URL into raw bytes and its MIME type.
// A missing or unparsable MIME header falls back to image/jpeg.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return nil, "", fmt.Errorf("simsearch: malformed data URL")
	}

	mimeType := "image/jpeg"
	meta := strings.TrimPrefix(header, "data:")
	if mt, _, found := strings.Cut(meta, ";"); found && mt != "" {
		mimeType = mt
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("simsearch: decode data URL: %w", err)
	}
	return raw, mimeType, nil
}

// Search posts the captured image and returns similar items, most similar
// first as ranked by the service. k limits the result count; k <= 0 leaves
// the choice to the service.
func (c *Client) Search(ctx context.Context, imageDataURL string, k int) ([]Match, error) {
	raw, mimeType, err := DecodeDataURL(imageDataURL)
	if err != nil {
		return nil, err
	}

	ext := "jpg"
	if _, sub, ok := strings.Cut(mimeType, "/"); ok && sub != "" {
		ext = sub
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "product."+ext)
	if err != nil {
		return nil, fmt.Errorf("simsearch: build form: %w", err)
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, fmt.Errorf("simsearch: build form: %w", err)
	}
	if k > 0 {
		if err := mw.WriteField("k", strconv.Itoa(k)); err != nil {
			return nil, fmt.Errorf("simsearch: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("simsearch: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("simsearch: new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simsearch: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("simsearch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var payload struct {
		Matches []Match `json:"matches"`
		Results []Match `json:"results"`
		Error   string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("simsearch: decode response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("simsearch: service error: %s", payload.Error)
	}

	matches := payload.Matches
	if matches == nil {
		matches = payload.Results
	}

	c.logger.Debug("simsearch: search done", "matches", len(matches), "k", k)
	return c.normalize(matches), nil
}

// normalize fills ImageURL for every match: absolute paths pass through,
// relative ones resolve against the assets base, and as a last resort the
// raw path is kept so the caller still sees where the image lives.
func (c *Client) normalize(matches []Match) []Match {
	out := make([]Match, len(matches))
	for i, m := range matches {
		if m.ImageURL == "" && m.ImagePath != "" {
			switch {
			case strings.HasPrefix(strings.ToLower(m.ImagePath), "http://"),
				strings.HasPrefix(strings.ToLower(m.ImagePath), "https://"):
				m.ImageURL = m.ImagePath
			case c.assetsBase != "":
				m.ImageURL = strings.TrimSuffix(c.assetsBase, "/") + "/" + strings.TrimPrefix(m.ImagePath, "/")
			default:
				m.ImageURL = m.ImagePath
			}
		}
		out[i] = m
	}
	return out
}
