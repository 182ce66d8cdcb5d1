package webref

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultMaxContentSize = 2 << 20 // 2 MB per page
)

// Enricher fetches a fixed set of reference pages once and serves them as
// a markdown context block. Pages that fail to fetch or convert are logged
// and skipped; reference material is best-effort, never load-bearing.
type Enricher struct {
	urls      []string
	fetcher   *Fetcher
	converter *Converter
	logger    *slog.Logger

	once    sync.Once
	context string
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithEnricherLogger sets the logger.
func WithEnricherLogger(logger *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// WithFetcher overrides the default fetcher.
func WithFetcher(f *Fetcher) EnricherOption {
	return func(e *Enricher) {
		e.fetcher = f
	}
}

// NewEnricher creates an enricher over a URL list.
func NewEnricher(urls []string, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		urls:      urls,
		converter: NewConverter(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = NewFetcher(defaultFetchTimeout, defaultMaxContentSize)
	}
	return e
}

// Context returns the combined markdown for every fetchable reference
// page. The first call fetches; later calls reuse the result.
func (e *Enricher) Context(ctx context.Context) string {
	e.once.Do(func() {
		e.context = e.buildContext(ctx)
	})
	return e.context
}

func (e *Enricher) buildContext(ctx context.Context) string {
	var b strings.Builder
	for _, raw := range e.urls {
		section, err := e.fetchOne(ctx, raw)
		if err != nil {
			e.logger.Warn("Skipping reference page", "url", raw, "error", err)
			continue
		}
		b.WriteString(section)
	}
	return strings.TrimSpace(b.String())
}

func (e *Enricher) fetchOne(ctx context.Context, raw string) (string, error) {
	result, err := e.fetcher.Fetch(ctx, raw)
	if err != nil {
		return "", err
	}

	pageURL, _ := url.Parse(raw)
	converted, err := e.converter.Convert(result.Body, pageURL)
	if err != nil {
		return "", err
	}
	if converted.Markdown == "" {
		return "", fmt.Errorf("page produced no content")
	}

	title := converted.Title
	if title == "" {
		title = raw
	}
	return fmt.Sprintf("## Reference: %s\n\n%s\n\n", title, converted.Markdown), nil
}
