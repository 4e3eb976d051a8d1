package jma

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/security"
)

// ContentHash はtitle + updated + linkのSHA-256ハッシュを計算する。
// いずれかが変われば意味的な内容が同じでも変更として扱う。
func ContentHash(title, updated, link string) string {
	data := fmt.Sprintf("%s|%s|%s", title, updated, link)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// EntryKey はエントリの識別子を返す。idを優先し、無ければ先頭リンクのhrefを使う。
// どちらも無い場合は空文字列（重複判定できないため破棄対象）。
func EntryKey(item *gofeed.Item) string {
	if id := strings.TrimSpace(item.GUID); id != "" {
		return id
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if len(item.Links) > 0 {
		return strings.TrimSpace(item.Links[0])
	}
	return ""
}

// convertItems はgofeedのエントリをmodel.FeedEntryに変換する。
func convertItems(feedURL string, items []*gofeed.Item, sanitizer security.ContentSanitizerService) []model.FeedEntry {
	entries := make([]model.FeedEntry, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}
		key := EntryKey(item)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}

		updatedRaw := item.Updated
		if updatedRaw == "" {
			updatedRaw = item.Published
		}

		entry := model.FeedEntry{
			EntryKey:    key,
			SourceFeed:  feedURL,
			Title:       strings.TrimSpace(item.Title),
			UpdatedRaw:  updatedRaw,
			Link:        link,
			ContentHash: ContentHash(item.Title, updatedRaw, link),
		}

		if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			entry.UpdatedAt = &t
		} else if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			entry.UpdatedAt = &t
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}
		if sanitizer != nil {
			content = sanitizer.Sanitize(content)
		}
		entry.Content = content

		if raw, err := json.Marshal(item); err == nil {
			entry.Raw = raw
		}

		entries = append(entries, entry)
	}

	return entries
}
