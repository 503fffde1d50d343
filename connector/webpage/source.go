// Package webpage implements the webpage connector: configured URLs are
// fetched over HTTPS with SSRF protection, converted from HTML to
// markdown and decomposed into blocks. Conditional fetches via ETag keep
// repeat syncs cheap for unchanged pages.
package webpage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/record"
)

// Name is the connector type this package registers.
const Name = "webpage"

// etagPath stores the per-URL ETag cache for conditional fetches.
const etagPath = "/services/connectors/" + Name + "/etags"

func init() {
	connector.RegisterFactory(Name, New)
}

// Settings is the connector-specific configuration carried in the KV
// config document.
type Settings struct {
	OrgKey          string   `json:"orgId"`
	URLs            []string `json:"urls"`
	UserAgent       string   `json:"userAgent,omitempty"`
	TimeoutSeconds  int      `json:"timeoutSeconds,omitempty"`
	MaxContentBytes int64    `json:"maxContentBytes,omitempty"`
}

// Source fetches and converts the configured pages.
type Source struct {
	settings Settings
	fetcher  *fetcher
	convert  *converter
	store    kvstore.Store
	logger   *slog.Logger
}

// New builds the webpage source from its KV config. Registered as the
// factory for the "webpage" connector type.
func New(cfg *connector.Config, deps connector.Deps) (connector.Source, error) {
	var settings Settings
	if len(cfg.Settings) > 0 {
		if err := json.Unmarshal(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("decode webpage settings: %w", err)
		}
	}
	if settings.OrgKey == "" {
		return nil, fmt.Errorf("webpage connector requires orgId")
	}
	if len(settings.URLs) == 0 {
		return nil, fmt.Errorf("webpage connector requires at least one url")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		settings: settings,
		fetcher:  newFetcher(time.Duration(settings.TimeoutSeconds)*time.Second, settings.UserAgent, settings.MaxContentBytes),
		convert:  newConverter(),
		store:    deps.Store,
		logger:   logger,
	}, nil
}

// Name implements connector.Source.
func (s *Source) Name() string { return Name }

// TestConnectionAndAccess checks every configured URL against the fetch
// policy. Violations are configuration errors, so the probe fails before
// any request is made.
func (s *Source) TestConnectionAndAccess(_ context.Context) error {
	for _, url := range s.settings.URLs {
		if err := validateURL(url); err != nil {
			return fmt.Errorf("url %s: %w", url, err)
		}
	}
	return nil
}

// Items implements connector.Source. Webpages are re-scanned on every
// run, so the cursor is ignored.
func (s *Source) Items(ctx context.Context, _ string) (connector.Iterator, error) {
	etags := make(map[string]string)
	if s.store != nil {
		if raw, err := s.store.Get(ctx, etagPath); err == nil {
			_ = json.Unmarshal(raw, &etags)
		} else if !errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, fmt.Errorf("load etag cache: %w", err)
		}
	}
	return &iterator{source: s, etags: etags}, nil
}

type iterator struct {
	source *Source
	etags  map[string]string
	pos    int
	dirty  bool
}

// Next fetches the next configured URL, skipping pages the server
// reports as unchanged.
func (it *iterator) Next(ctx context.Context) (*connector.Item, error) {
	s := it.source
	for it.pos < len(s.settings.URLs) {
		url := s.settings.URLs[it.pos]
		it.pos++

		result, err := s.fetcher.fetch(ctx, url, it.etags[url])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("webpage %s: %w", url, err)
		}
		if result.NotModified {
			s.logger.Debug("Page unchanged", "url", url)
			continue
		}
		if result.ETag != "" && result.ETag != it.etags[url] {
			it.etags[url] = result.ETag
			it.dirty = true
		}

		item, err := s.buildItem(url, result)
		if err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, connector.ErrEndOfItems
}

// Close persists the ETag cache when it changed during the run.
func (it *iterator) Close() error {
	if !it.dirty || it.source.store == nil {
		return nil
	}
	raw, err := json.Marshal(it.etags)
	if err != nil {
		return fmt.Errorf("marshal etag cache: %w", err)
	}
	if err := it.source.store.Set(context.Background(), etagPath, raw, 0); err != nil {
		return fmt.Errorf("save etag cache: %w", err)
	}
	return nil
}

// buildItem converts one fetched page into a transform item.
func (s *Source) buildItem(url string, result *fetchResult) (*connector.Item, error) {
	title, markdown, err := s.convert.convert(result.Body)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", url, err)
	}
	if title == "" {
		title = url
	}

	key := pageKey(url)
	modified := result.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}

	rec := &record.Record{
		Key:                key,
		OrgKey:             s.settings.OrgKey,
		ExternalID:         url,
		Name:               title,
		Type:               record.TypeWebpage,
		Origin:             record.OriginConnector,
		ConnectorName:      Name,
		SourceModifiedAt:   modified,
		SourceCreatedAt:    modified,
		WebURL:             url,
		MimeType:           "text/markdown",
		ExternalRevisionID: result.ETag,
		IndexingStatus:     record.StatusNotStarted,
		ExtractionStatus:   record.StatusNotStarted,
	}

	blocks := make([]record.Block, 0, 4)
	for i, section := range splitSections(markdown) {
		blocks = append(blocks, record.Block{
			Index:     i,
			Type:      record.BlockText,
			Format:    record.FormatMarkdown,
			Data:      section,
			RecordKey: key,
		})
	}

	return &connector.Item{
		Record:  rec,
		Blocks:  record.BlocksContainer{Blocks: blocks},
		Content: []byte(markdown),
	}, nil
}

// pageKey derives a stable record key from the page URL.
func pageKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "web-" + hex.EncodeToString(sum[:8])
}

// splitSections breaks markdown at headings so each block carries one
// coherent section. Markdown with no headings becomes a single block.
func splitSections(markdown string) []string {
	if markdown == "" {
		return nil
	}
	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "#") && current.Len() > 0 {
			sections = append(sections, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		sections = append(sections, trimmed)
	}
	return sections
}
