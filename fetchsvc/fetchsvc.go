// Package fetchsvc is the privileged byte-fetch service. Frame detectors
// cannot pull cross-origin image bytes themselves; they hand the resolved
// URL over the bus and this service fetches it with an unrestricted HTTP
// client and answers with a base64 data URL.
//
// One attempt per request — retry policy belongs to the caller's timeout.
package fetchsvc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecostyle/scout/msgbus"
)

// MaxImageBytes caps a single image read. Anything larger is not product
// photography worth embedding.
const MaxImageBytes = 10 << 20

// Service fetches image bytes and encodes them for transport.
type Service struct {
	client   *http.Client
	ua       string
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Service) { s.ua = ua }
}

// WithMaxBytes sets the read cap.
func WithMaxBytes(n int64) Option {
	return func(s *Service) { s.maxBytes = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service with sensible defaults.
func New(opts ...Option) *Service {
	s := &Service{
		client:   &http.Client{Timeout: 30 * time.Second},
		ua:       "Mozilla/5.0 (compatible; Scout/1.0)",
		maxBytes: MaxImageBytes,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FetchAsDataURL retrieves the resource at rawURL and returns it as a
// "data:<mime>;base64," URL. The content type comes from the response
// header when present, otherwise from sniffing the bytes — the origin may
// not declare one.
func (s *Service) FetchAsDataURL(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("fetchsvc: not an absolute http(s) URL: %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("fetchsvc: new request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetchsvc: fetch %s: %w", u.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetchsvc: fetch %s: status %d", u.String(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("fetchsvc: read body: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return "", fmt.Errorf("fetchsvc: response exceeds %d bytes", s.maxBytes)
	}

	mimeType := contentType(resp.Header.Get("Content-Type"), body)

	s.logger.Debug("fetchsvc: fetched",
		"url", u.String(), "size", len(body), "mime", mimeType)

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

// Register installs the service as the bus responder for
// FETCH_IMAGE_AS_DATA_URL. Fetch failures become OK=false responses; only
// malformed payloads surface as protocol errors.
func (s *Service) Register(bus *msgbus.Bus) {
	bus.Handle(msgbus.TypeFetchImageAsDataURL,
		func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			req, err := msgbus.DecodeFetchImageRequest(payload)
			if err != nil {
				return nil, err
			}

			dataURL, err := s.FetchAsDataURL(ctx, req.URL)
			if err != nil {
				return json.Marshal(msgbus.FetchImageResponse{OK: false, Error: err.Error()})
			}
			return json.Marshal(msgbus.FetchImageResponse{OK: true, DataURL: dataURL})
		})
}

// contentType picks the transported MIME type: declared header first,
// sniffed bytes when the header is missing or generic.
func contentType(header string, body []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil &&
			mt != "application/octet-stream" && !strings.HasPrefix(mt, "text/plain") {
			return mt
		}
	}
	return http.DetectContentType(body)
}
