package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/wogdump/wogdump/internal/config"
	werrors "github.com/wogdump/wogdump/internal/errors"
	logger "github.com/wogdump/wogdump/internal/logging"
)

// HeadResult is what a probe learned about a remote asset.
type HeadResult struct {
	Size        int64  // -1 when the server did not report a length
	VersionHint string // ETag when present
}

// FetchResult describes a completed download.
type FetchResult struct {
	BytesWritten int64
	RemoteSize   int64
	VersionHint  string
}

// Fetcher downloads assets over HTTP with retries and chunked streaming.
type Fetcher struct {
	client    *retryablehttp.Client
	chunkSize int
	userAgent string
	log       logger.Logger
}

// NewFetcher builds a fetcher from the config's retry policy.
func NewFetcher(cfg config.Config, log logger.Logger) *Fetcher {
	return &Fetcher{
		client:    NewRetryClient(cfg, log),
		chunkSize: cfg.ChunkSize,
		userAgent: cfg.UserAgent(),
		log:       log,
	}
}

// NewRetryClient builds the retrying HTTP client shared by the fetcher
// and the key service client: pooled transport, exponential backoff with
// jitter, and retries only on failures a repeat attempt can fix.
func NewRetryClient(cfg config.Config, log logger.Logger) *retryablehttp.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.Workers,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout.Duration,
	}
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin.Duration
	client.RetryWaitMax = cfg.RetryWaitMax.Duration
	client.Logger = retryLogger{log}
	client.CheckRetry = checkRetry
	client.Backoff = backoffWithJitter
	return client
}

// retryLogger funnels the retry client's chatter into debug output.
type retryLogger struct {
	log logger.Logger
}

func (l retryLogger) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

// HeadSize probes url for the remote size without downloading the body.
// A Size of -1 means the server answered without a Content-Length.
func (f *Fetcher) HeadSize(ctx context.Context, url string) (HeadResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return HeadResult{}, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return HeadResult{}, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HeadResult{}, statusError(resp)
	}
	return HeadResult{Size: resp.ContentLength, VersionHint: versionHint(resp)}, nil
}

// FetchFile downloads url into dest. The body streams through a fixed
// chunk buffer into a temp file beside dest, which is promoted with a
// rename only after the whole body arrived. Any failure removes the temp
// file and leaves dest untouched.
func (f *Fetcher) FetchFile(ctx context.Context, url, dest string) (FetchResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, statusError(resp)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return FetchResult{}, fmt.Errorf("failed to create asset directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, copyErr := f.copyChunks(ctx, tmp, resp.Body)
	if copyErr == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		copyErr = fmt.Errorf("%w: got %d of %d bytes from %s",
			werrors.ErrTransientNetwork, written, resp.ContentLength, url)
	}
	if copyErr == nil {
		if err := tmp.Sync(); err != nil {
			copyErr = fmt.Errorf("failed to flush download: %w", err)
		}
	}
	if err := tmp.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("failed to close download: %w", err)
	}
	if copyErr != nil {
		os.Remove(tmp.Name())
		return FetchResult{}, copyErr
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return FetchResult{}, fmt.Errorf("failed to promote download: %w", err)
	}

	remote := resp.ContentLength
	if remote < 0 {
		remote = written
	}
	f.log.Debugf("fetched %s (%d bytes)", dest, written)
	return FetchResult{BytesWritten: written, RemoteSize: remote, VersionHint: versionHint(resp)}, nil
}

// copyChunks streams body into w one chunk at a time, honoring
// cancellation between chunks.
func (f *Fetcher) copyChunks(ctx context.Context, w io.Writer, body io.Reader) (int64, error) {
	buf := make([]byte, f.chunkSize)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write chunk: %w", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("%w: %v", werrors.ErrTransientNetwork, readErr)
		}
	}
}

func versionHint(resp *http.Response) string {
	return strings.Trim(resp.Header.Get("ETag"), `"`)
}
