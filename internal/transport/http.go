package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/logging"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// maxJSONBody caps metadata responses
const maxJSONBody = 1 << 20

// Config tunes the HTTP transport
type Config struct {
	ConnectTimeout  time.Duration
	MetadataTimeout time.Duration
	ChunkSize       int
	Headers         map[string]string
}

// HTTP streams resource bytes and fetches JSON metadata over HTTP
type HTTP struct {
	cfg      Config
	stream   *http.Client
	metadata *http.Client
	logger   *zap.Logger
}

var _ api.Transport = (*HTTP)(nil)

// NewHTTP creates an HTTP transport
func NewHTTP(cfg Config, logger *zap.Logger) *HTTP {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		DisableCompression:    true,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTP{
		cfg: cfg,
		stream: &http.Client{
			Transport: transport,
			Timeout:   0, // No total timeout for streaming
		},
		metadata: &http.Client{
			Transport: transport,
			Timeout:   cfg.MetadataTimeout,
		},
		logger: logging.OrNop(logger).Named("transport"),
	}
}

func (h *HTTP) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", playerrors.ErrInvalidURL, err)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Stream downloads url and hands each chunk to onChunk as it arrives.
// onProgress is called after every chunk and once more with Done set when
// the body has been read to the end. The chunk slice is not reused.
func (h *HTTP) Stream(ctx context.Context, url string, onChunk func([]byte), onProgress func(api.Progress)) error {
	req, err := h.newRequest(ctx, url)
	if err != nil {
		return err
	}

	resp, err := h.stream.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", playerrors.ErrIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status: %d", playerrors.ErrIO, resp.StatusCode)
	}

	total := resp.ContentLength
	h.logger.Debug("stream opened", zap.String("url", url), zap.Int64("content_length", total))

	var completed int64
	buf := make([]byte, h.cfg.ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			completed += int64(n)
			if onChunk != nil {
				onChunk(chunk)
			}
			if onProgress != nil {
				onProgress(api.Progress{Completed: completed, Total: total})
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: read body: %v", playerrors.ErrIO, rerr)
		}
	}

	if total > 0 && completed < total {
		return fmt.Errorf("%w: short body: %d of %d bytes", playerrors.ErrIO, completed, total)
	}
	if total < 0 {
		total = completed
	}
	if onProgress != nil {
		onProgress(api.Progress{Completed: completed, Total: total, Done: true})
	}
	return nil
}

// FetchJSON decodes the JSON document at url into v
func (h *HTTP) FetchJSON(ctx context.Context, url string, v any) error {
	req, err := h.newRequest(ctx, url)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := h.metadata.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", playerrors.ErrIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status: %d", playerrors.ErrIO, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", playerrors.ErrIO, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: parse json: %v", playerrors.ErrInvalidFormat, err)
	}
	return nil
}
