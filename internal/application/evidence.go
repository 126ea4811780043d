package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-warden/internal/ports"
)

// Download errors.
var (
	ErrUnsupportedScheme = errors.New("only http and https URLs are supported")
	ErrNotAnImage        = errors.New("response is not an image")
	ErrTooLarge          = errors.New("response exceeds size limit")
)

// DownloadFailure reports an evidence URL that could not be fetched. Failed
// URLs are left out of the evaluated batch.
type DownloadFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Downloader fetches evidence images over HTTP with bounded concurrency.
type Downloader struct {
	client         *http.Client
	maxBytes       int64
	maxConcurrency int
	logger         *slog.Logger
}

// NewDownloader creates a downloader from cfg. A nil client gets one with
// cfg.Timeout.
func NewDownloader(cfg DownloadConfig, client *http.Client, logger *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:         client,
		maxBytes:       cfg.MaxBytes,
		maxConcurrency: max(cfg.MaxConcurrency, 1),
		logger:         logger.With("component", "downloader"),
	}
}

// Fetch downloads every URL. Successful downloads keep the order of urls;
// each failure is reported instead of failing the whole call.
func (d *Downloader) Fetch(ctx context.Context, urls []string) ([]ports.Attachment, []DownloadFailure) {
	type outcome struct {
		att ports.Attachment
		err error
	}
	outcomes := make([]outcome, len(urls))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(d.maxConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			att, err := d.fetchOne(ctx, u)
			mu.Lock()
			outcomes[i] = outcome{att: att, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	attachments := make([]ports.Attachment, 0, len(urls))
	var failures []DownloadFailure
	for i, o := range outcomes {
		if o.err != nil {
			d.logger.WarnContext(ctx, "evidence download failed", "url", urls[i], "error", o.err)
			failures = append(failures, DownloadFailure{URL: urls[i], Error: o.err.Error()})
			continue
		}
		attachments = append(attachments, o.att)
	}
	return attachments, failures
}

func (d *Downloader) fetchOne(ctx context.Context, raw string) (ports.Attachment, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ports.Attachment{}, ErrUnsupportedScheme
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ports.Attachment{}, err
	}
	req.Header.Set("User-Agent", "go-warden/1.0")
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return ports.Attachment{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.Attachment{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return ports.Attachment{}, ErrTooLarge
	}

	limit := d.maxBytes
	if limit <= 0 {
		limit = 1 << 62
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return ports.Attachment{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ports.Attachment{}, ErrTooLarge
	}

	mimeType := imageType(resp.Header.Get("Content-Type"), data)
	if mimeType == "" {
		return ports.Attachment{}, ErrNotAnImage
	}

	d.logger.DebugContext(ctx, "evidence downloaded",
		"url", raw, "bytes", len(data), "duration", time.Since(start))
	return ports.Attachment{Name: raw, MIMEType: mimeType, Data: data}, nil
}

// imageType returns the image MIME type of a response, preferring the
// declared header and falling back to content sniffing. It returns "" when
// neither identifies an image.
func imageType(header string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return ""
}
