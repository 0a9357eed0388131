// Package fetcher downloads documents and answer-sheet images, normalising
// Google Drive share links into direct download links first.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/pkg/logging"
	"golang.org/x/time/rate"
)

var (
	ErrTooLarge           = errors.New("response exceeds size limit")
	ErrNotImage           = errors.New("downloaded file is not an image")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// DownloadError reports a link that could not be fetched or decoded.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

type FetcherConfig struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second
	MaxBytes  int64
	UserAgent string
	Client    *http.Client
}

type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Download is a fetched response body.
type Download struct {
	URL         string
	ContentType string
	Body        []byte
}

func NewWithConfig(config FetcherConfig, logger *slog.Logger) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 32 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "assess/1.0"
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Fetcher{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  logging.WithComponent(logger, "fetcher"),
	}
}

// NormalizeDriveLink rewrites Drive share links into direct download links.
// Any other link is returned unchanged.
func NormalizeDriveLink(link string) string {
	link = strings.TrimSpace(link)
	if !strings.Contains(link, "drive.google.com") {
		return link
	}

	if i := strings.Index(link, "/file/d/"); i >= 0 {
		id := link[i+len("/file/d/"):]
		if j := strings.IndexAny(id, "/?#"); j >= 0 {
			id = id[:j]
		}
		if id != "" {
			return driveDownloadURL(id)
		}
		return link
	}

	if strings.Contains(link, "drive.google.com/open") {
		parsed, err := url.Parse(link)
		if err != nil {
			return link
		}
		if id := parsed.Query().Get("id"); id != "" {
			return driveDownloadURL(id)
		}
	}
	return link
}

func driveDownloadURL(id string) string {
	return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id)
}

// Download fetches link after Drive normalisation. A Drive "can't scan this
// file for viruses" interstitial is followed once.
func (f *Fetcher) Download(ctx context.Context, link string) (*Download, error) {
	target := NormalizeDriveLink(link)
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, &DownloadError{URL: link, Err: fmt.Errorf("invalid link: %w", err)}
	}

	d, err := f.get(ctx, target)
	if err != nil {
		return nil, err
	}

	if isHTML(d.ContentType) {
		if next, ok := confirmLink(d); ok {
			f.logger.Debug("following download confirmation", "url", next)
			return f.get(ctx, next)
		}
	}
	return d, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (*Download, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, &DownloadError{URL: target, Err: err}
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, &DownloadError{URL: target, Err: ErrTooLarge}
	}

	f.logger.Debug("downloaded", "url", target, "bytes", len(body), "elapsed", time.Since(start))
	return &Download{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// confirmLink finds the follow-up URL on a Drive download warning page.
func confirmLink(d *Download) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(d.Body))
	if err != nil {
		return "", false
	}
	base, err := url.Parse(d.URL)
	if err != nil {
		return "", false
	}

	if form := doc.Find("form#download-form"); form.Length() > 0 {
		action, ok := form.Attr("action")
		if !ok {
			return "", false
		}
		target, err := base.Parse(action)
		if err != nil {
			return "", false
		}
		q := target.Query()
		form.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
			name, _ := input.Attr("name")
			value, _ := input.Attr("value")
			if name != "" {
				q.Set(name, value)
			}
		})
		target.RawQuery = q.Encode()
		return target.String(), true
	}

	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.Contains(href, "export=download") && strings.Contains(href, "confirm=") {
			if target, err := base.Parse(href); err == nil {
				next = target.String()
				return false
			}
		}
		return true
	})
	return next, next != ""
}

// FetchText downloads link and returns its text with whitespace runs
// collapsed to single spaces. PDF, HTML and plain text are supported.
func (f *Fetcher) FetchText(ctx context.Context, link string) (string, error) {
	doc, err := f.FetchDocument(ctx, link)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// FetchDocument is FetchText with the source and title kept for ingestion.
func (f *Fetcher) FetchDocument(ctx context.Context, link string) (models.Document, error) {
	d, err := f.Download(ctx, link)
	if err != nil {
		return models.Document{}, err
	}

	var title, text string
	switch {
	case bytes.HasPrefix(d.Body, []byte("%PDF-")):
		text, err = pdfText(d.Body)
	case isHTML(d.ContentType):
		title, text, err = htmlText(d.Body)
	case mediaType(d.ContentType) == "text/plain":
		text = string(d.Body)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedContent, d.ContentType)
	}
	if err != nil {
		return models.Document{}, &DownloadError{URL: d.URL, Err: err}
	}

	return models.Document{
		ID:      link,
		Source:  link,
		Title:   strings.TrimSpace(title),
		Content: CleanText(text),
		Metadata: map[string]interface{}{
			"contentType": d.ContentType,
			"bytes":       len(d.Body),
		},
	}, nil
}

// FetchImage downloads an answer-sheet image. The response must declare an
// image/* content type.
func (f *Fetcher) FetchImage(ctx context.Context, link string) (string, []byte, error) {
	d, err := f.Download(ctx, link)
	if err != nil {
		return "", nil, err
	}
	mt := mediaType(d.ContentType)
	if !strings.HasPrefix(mt, "image/") {
		return "", nil, &DownloadError{URL: d.URL, Err: fmt.Errorf("%w: %q", ErrNotImage, d.ContentType)}
	}
	return mt, d.Body, nil
}

// CleanText collapses every whitespace run to one space.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func htmlText(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	selectors := []string{"main", "article", ".content", "#content"}
	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}
	return doc.Find("title").Text(), content, nil
}

func isHTML(contentType string) bool {
	return mediaType(contentType) == "text/html"
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
