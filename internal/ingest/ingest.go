// Package ingest turns uploaded files and web pages into text documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"docqa/internal/model"
	"docqa/internal/pkg/docxtext"
	"docqa/internal/pkg/htmltext"
	"docqa/internal/pkg/pdfextract"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrUnsupported = errors.New("unsupported document type")
	ErrNoText      = errors.New("no extractable text")
	ErrInvalidURL  = errors.New("invalid url")
	ErrFetch       = errors.New("fetch failed")
	ErrTooLarge    = errors.New("content too large")
	ErrNotUTF8     = errors.New("file is not valid UTF-8 text")
)

const (
	defaultUserAgent    = "docqa/1.0"
	defaultMaxFetch     = int64(10 << 20)
	defaultFetchTimeout = 30 * time.Second
)

var plainTextExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true, ".log": true,
}

type Options struct {
	HTTPClient    *http.Client
	FetchTimeout  time.Duration
	MaxFetchBytes int64
	UserAgent     string
}

type Ingestor struct {
	httpClient    *http.Client
	maxFetchBytes int64
	userAgent     string
}

func NewIngestor(opts Options) *Ingestor {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxFetchBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFetch
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Ingestor{
		httpClient:    client,
		maxFetchBytes: maxBytes,
		userAgent:     ua,
	}
}

// IngestFile extracts the documents of a single saved upload. It never returns an
// empty slice without an error.
func (i *Ingestor) IngestFile(ctx context.Context, path string) ([]model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", filepath.Base(path), err)
	}
	defer f.Close()

	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	meta := func(extra ...string) map[string]string {
		m := map[string]string{"file_name": name, "file_type": strings.TrimPrefix(ext, ".")}
		for k := 0; k+1 < len(extra); k += 2 {
			m[extra[k]] = extra[k+1]
		}
		return m
	}

	var docs []model.Document
	switch {
	case plainTextExts[ext]:
		b, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read %s failed: %w", name, err)
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: %s", ErrNotUTF8, name)
		}
		docs = appendDoc(docs, string(b), name, meta())
	case ext == ".pdf":
		pages, err := pdfextract.ExtractPages(f)
		if err != nil {
			return nil, fmt.Errorf("extract text from %s failed: %w", name, err)
		}
		for idx, page := range pages {
			docs = appendDoc(docs, page, name, meta("page_label", strconv.Itoa(idx+1)))
		}
	case ext == ".docx":
		text, err := docxtext.ExtractText(f)
		if err != nil {
			return nil, fmt.Errorf("extract text from %s failed: %w", name, err)
		}
		docs = appendDoc(docs, text, name, meta())
	case ext == ".html" || ext == ".htm":
		page, err := htmltext.Convert(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s failed: %w", name, err)
		}
		docs = appendDoc(docs, page.Text, name, meta("title", page.Title))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoText, name)
	}
	for k := range docs {
		docs[k].SourceType = model.SourceTypeFile
	}
	return docs, nil
}

// IngestURL fetches an absolute http(s) URL and converts the page to text.
func (i *Ingestor) IngestURL(ctx context.Context, rawURL string) ([]model.Document, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", i.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > i.maxFetchBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, target, i.maxFetchBytes)
	}

	mediaType := "text/html"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}

	meta := map[string]string{"url": target, "content_type": mediaType}
	var text string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page, err := htmltext.Convert(strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("%w: parse html: %v", ErrFetch, err)
		}
		text = page.Text
		if page.Title != "" {
			meta["title"] = page.Title
		}
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || mediaType == "application/xml":
		text = string(body)
	default:
		return nil, fmt.Errorf("%w: content type %s", ErrUnsupported, mediaType)
	}

	docs := appendDoc(nil, text, target, meta)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w at %s", ErrNoText, target)
	}
	docs[0].SourceType = model.SourceTypeURL
	return docs, nil
}

func appendDoc(docs []model.Document, text, source string, meta map[string]string) []model.Document {
	text = strings.TrimSpace(text)
	if text == "" {
		return docs
	}
	return append(docs, model.Document{
		Text:     text,
		Source:   source,
		Metadata: meta,
	})
}
