package vacancy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/jobsync/internal/document"
	"github.com/hitoshi/jobsync/internal/model"
	"github.com/hitoshi/jobsync/internal/security"
)

const (
	// DefaultMaxEntries は1回の取り込みで処理するフィードエントリの上限。
	DefaultMaxEntries  = 50
	defaultFeedTimeout = 15 * time.Second
)

// Submitter は求人ソースをドキュメントキャッシュに登録する。Serviceが実装する。
type Submitter interface {
	Submit(ctx context.Context, ownerID, source string) (*document.Result, error)
}

// ImportResult はフィードエントリ1件の取り込み結果。
type ImportResult struct {
	Link      string
	VacancyID string
	Document  *model.Document
	Created   bool
	Err       error
}

// ImporterConfig はFeedImporterの設定。
type ImporterConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	MaxEntries  int
}

// FeedImporter はジョブボードの保存検索フィード（RSS/Atom）から求人をまとめて取り込む。
type FeedImporter struct {
	guard     security.URLGuard
	submitter Submitter
	config    ImporterConfig
	logger    *slog.Logger
}

// NewFeedImporter はFeedImporterを生成する。
func NewFeedImporter(guard security.URLGuard, submitter Submitter, config ImporterConfig, logger *slog.Logger) *FeedImporter {
	if config.Timeout <= 0 {
		config.Timeout = defaultFeedTimeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedImporter{guard: guard, submitter: submitter, config: config, logger: logger}
}

// Import はfeedURLのフィードを読み込み、各エントリの求人を取り込む。
// フィード自体の取得・解析に失敗した場合のみエラーを返し、エントリごとの失敗はImportResult.Errに入る。
// 同じ求人を指すエントリは1件にまとめる。
func (i *FeedImporter) Import(ctx context.Context, principalID, feedURL string) ([]ImportResult, error) {
	if err := i.guard.Validate(feedURL); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidSource, err)
	}

	feed, err := i.fetchFeed(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	results := make([]ImportResult, 0, len(feed.Items))
	seen := make(map[string]bool)
	for _, item := range feed.Items {
		if len(results) >= i.config.MaxEntries {
			i.logger.Warn("feed entry limit reached",
				slog.String("feed_url", feedURL),
				slog.Int("max_entries", i.config.MaxEntries),
			)
			break
		}

		link := entryLink(item)
		id, err := CanonicalID(link)
		if err != nil {
			results = append(results, ImportResult{Link: link, Err: err})
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := ctx.Err(); err != nil {
			results = append(results, ImportResult{Link: link, VacancyID: id, Err: err})
			continue
		}

		res, err := i.submitter.Submit(ctx, principalID, id)
		r := ImportResult{Link: link, VacancyID: id, Err: err}
		if res != nil {
			r.Document = res.Document
			r.Created = res.Created
		}
		results = append(results, r)
	}

	i.logger.Info("feed imported",
		slog.String("feed_url", feedURL),
		slog.Int("entries", len(feed.Items)),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// fetchFeed はfeedURLのフィードを取得して解析する。
// HTMLページが返った場合はheadで宣言されたフィードを1回だけたどる。
func (i *FeedImporter) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	contentType, body, err := i.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	if isHTML(contentType) {
		link, ok := selectFeedLink(feedLinksFromHTML(body, feedURL), feedURL)
		if !ok {
			return nil, fmt.Errorf("%w: no feed link found in %s", model.ErrInvalidSource, feedURL)
		}
		if err := i.guard.Validate(link.URL); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidSource, err)
		}
		i.logger.Debug("feed discovered from page",
			slog.String("page_url", feedURL),
			slog.String("feed_url", link.URL),
		)
		if contentType, body, err = i.get(ctx, link.URL); err != nil {
			return nil, err
		}
		if isHTML(contentType) {
			return nil, fmt.Errorf("%w: %s is not a feed", model.ErrInvalidSource, link.URL)
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse feed: %v", model.ErrInvalidSource, err)
	}
	return feed, nil
}

// get はrawURLを取得し、Content-Typeと上限までのボディを返す。
func (i *FeedImporter) get(ctx context.Context, rawURL string) (string, []byte, error) {
	client := i.guard.Client(i.config.Timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		i.logger.Error("feed request failed",
			slog.String("feed_url", rawURL),
			slog.String("error", err.Error()),
		)
		return "", nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: feed returned status %d", model.ErrInvalidSource, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.config.MaxBodySize))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// entryLink はエントリのリンクを返す。Linkが空の場合はLinks、GUIDの順に探す。
func entryLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	for _, l := range item.Links {
		if l != "" {
			return l
		}
	}
	return item.GUID
}
