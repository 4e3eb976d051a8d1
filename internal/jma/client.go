// Package jma は気象庁防災情報XMLフィードの取得と電文解析を提供する。
package jma

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/anpi/internal/metrics"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/security"
)

const userAgent = "anpi/1.0 (+JMA XML receiver)"

// Options はClientの動作設定。
type Options struct {
	Timeout       time.Duration
	MaxBodySize   int64
	MaxConcurrent int
}

// Client はフィードと詳細電文を取得する。
// 取得先はfeedGuard・reportGuardによる静的検証を通過したURLに限られる。
type Client struct {
	feedGuard   security.SSRFGuardService
	reportGuard security.SSRFGuardService
	sanitizer   security.ContentSanitizerService
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	httpClient  *http.Client
	opts        Options
}

// NewClient はClientを生成する。
// reportGuardには詳細電文の取得を許可するホストを設定したガードを渡す。
func NewClient(
	feedGuard security.SSRFGuardService,
	reportGuard security.SSRFGuardService,
	sanitizer security.ContentSanitizerService,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Client {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Client{
		feedGuard:   feedGuard,
		reportGuard: reportGuard,
		sanitizer:   sanitizer,
		metrics:     mc,
		logger:      logger,
		httpClient:  reportGuard.NewSafeClient(opts.Timeout),
		opts:        opts,
	}
}

// WithHTTPClient は取得に使うHTTPクライアントを差し替える（テスト用）。
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// FetchFeeds は全フィードを並列に取得し、エントリを結合して返す。
// 個別フィードの失敗はログとメトリクスに記録して読み飛ばし、呼び出し元には伝播しない。
// 同一エントリキーは最初に現れたものを採用する。
func (c *Client) FetchFeeds(ctx context.Context, urls []string) []model.FeedEntry {
	results := make([][]model.FeedEntry, len(urls))

	sem := make(chan struct{}, c.opts.MaxConcurrent)
	var wg sync.WaitGroup

	for i, u := range urls {
		select {
		case <-ctx.Done():
			c.logger.Warn("コンテキストがキャンセルされたためフィード取得を中断します",
				slog.String("feed_url", u),
			)
			wg.Wait()
			return mergeEntries(results)
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()

			entries, err := c.fetchFeed(ctx, u)
			if err != nil {
				c.logger.Error("フィードの取得に失敗しました",
					slog.String("feed_url", u),
					slog.String("error", err.Error()),
				)
				return
			}
			results[i] = entries
		}(i, u)
	}

	wg.Wait()
	return mergeEntries(results)
}

func (c *Client) fetchFeed(ctx context.Context, feedURL string) ([]model.FeedEntry, error) {
	start := time.Now()

	if err := c.feedGuard.ValidateURL(feedURL); err != nil {
		c.metrics.RecordFetchFailure(feedURL, "ssrf")
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	body, status, err := c.get(ctx, feedURL, "application/atom+xml, application/xml, text/xml, */*")
	if err != nil {
		c.metrics.RecordFetchFailure(feedURL, "network")
		return nil, err
	}
	c.metrics.RecordHTTPStatus(status)
	c.metrics.RecordFetchLatency(time.Since(start))

	if ClassifyHTTPStatus(status) != FetchResultOK {
		c.metrics.RecordFetchFailure(feedURL, "status")
		return nil, fmt.Errorf("HTTPステータス %d", status)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		c.metrics.RecordParseFailure(feedURL)
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	entries := convertItems(feedURL, feed.Items, c.sanitizer)
	c.metrics.RecordFetchSuccess(feedURL)
	c.logger.Info("フィード取得が完了しました",
		slog.String("feed_url", feedURL),
		slog.Int("http_status", status),
		slog.Int("entries", len(entries)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return entries, nil
}

// FetchReport は詳細電文を取得して解析する。
// 取得先ホストは許可リストに含まれている必要がある。
func (c *Client) FetchReport(ctx context.Context, link string) (*model.Report, error) {
	if err := c.reportGuard.ValidateURL(link); err != nil {
		return nil, fmt.Errorf("詳細電文URLの検証に失敗: %w", err)
	}

	body, status, err := c.get(ctx, link, "application/xml, text/xml, */*")
	if err != nil {
		return nil, err
	}
	if ClassifyHTTPStatus(status) != FetchResultOK {
		return nil, fmt.Errorf("詳細電文の取得でHTTPステータス %d", status)
	}

	report, err := ParseReport(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("詳細電文の解析に失敗: %w", err)
	}
	return report, nil
}

// get はキャッシュを使わずにGETし、最大サイズまでボディを読み込む。
func (c *Client) get(ctx context.Context, rawURL, accept string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	limit := c.opts.MaxBodySize
	if limit <= 0 {
		limit = 5 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	return body, resp.StatusCode, nil
}

func mergeEntries(results [][]model.FeedEntry) []model.FeedEntry {
	seen := make(map[string]struct{})
	var out []model.FeedEntry
	for _, entries := range results {
		for _, e := range entries {
			if _, dup := seen[e.EntryKey]; dup {
				continue
			}
			seen[e.EntryKey] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
