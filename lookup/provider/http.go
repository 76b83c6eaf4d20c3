package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/lookupkit/errors"
)

// HTTP fetches a payload from a master with conditional GET. The last ETag
// seen is sent on every request as both ETag and If-None-Match.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.RWMutex
	etag string
}

// NewHTTP returns a provider for an http:// or https:// URL.
func NewHTTP(url string, opts ...Option) (*HTTP, error) {
	o := buildOptions(opts)
	if _, err := http.NewRequest(http.MethodGet, url, nil); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "HTTP", "NewHTTP", "parse url")
	}
	return &HTTP{
		url:     url,
		client:  o.httpClient,
		timeout: o.timeout,
		logger:  o.logger.With("component", "provider", "provider", url),
	}, nil
}

func (h *HTTP) String() string { return h.url }

// URL returns the master URL.
func (h *HTTP) URL() string { return h.url }

// ETag returns the last ETag received, empty before the first 200.
func (h *HTTP) ETag() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.etag
}

// SetETag overrides the known ETag, typically from a cache file.
func (h *HTTP) SetETag(etag string) {
	h.mu.Lock()
	h.etag = etag
	h.mu.Unlock()
}

// Load performs the conditional GET. 200 returns the body and remembers the
// response ETag; 304 is ErrNotModified; 501 is ErrNotSupported; 404, any
// other status, transport errors and timeouts are ErrUnavailable.
func (h *HTTP) Load(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "HTTP", "Load", "build request")
	}
	if etag := h.ETag(); etag != "" {
		req.Header.Set("ETag", etag)
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			h.logger.Warn("Master request timed out", "timeout", h.timeout)
		} else {
			h.logger.Warn("Master request failed", "error", err)
		}
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "HTTP", "Load", "request master")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			h.logger.Warn("Failed to read master response", "error", err)
			return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "HTTP", "Load", "read body")
		}
		h.SetETag(resp.Header.Get("ETag"))
		return data, nil
	case http.StatusNotModified:
		return nil, errors.Wrap(errors.ErrNotModified, "HTTP", "Load", "request master")
	case http.StatusNotImplemented:
		h.logger.Warn("Master does not support this lookup", "status", resp.StatusCode)
		return nil, errors.WrapInvalid(errors.ErrNotSupported, "HTTP", "Load", "request master")
	default:
		h.logger.Warn("Master returned error status", "status", resp.StatusCode)
		return nil, errors.WrapTransient(fmt.Errorf("%w: status %d", errors.ErrUnavailable, resp.StatusCode),
			"HTTP", "Load", "request master")
	}
}

// Save is not supported; masters are written through their own source.
func (h *HTTP) Save(context.Context, []byte) error {
	return errors.WrapInvalid(errors.ErrNotSupported, "HTTP", "Save", "save payload")
}

// isTimeout reports whether err came from the request deadline.
func isTimeout(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded)
}
