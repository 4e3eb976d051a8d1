package model

import "time"

// FeedEntry は気象庁フィードの1エントリを表す。
// EntryKey はフィードの id またはリンクから導出され、1回の取得内で一意となる。
type FeedEntry struct {
	EntryKey    string
	SourceFeed  string
	Title       string
	Content     string // 本文またはヘッドラインのプレーンテキスト
	UpdatedAt   *time.Time
	UpdatedRaw  string // フィード上の updated 文字列（ハッシュ計算に使用）
	Link        string // 詳細電文XMLのURL
	ContentHash string
	Raw         []byte // 受信時のエントリをJSON化したもの
	CreatedAt   time.Time
}

// SearchText はルール評価に使用する検索文字列を返す。
func (e *FeedEntry) SearchText() string {
	if e.Content == "" {
		return e.Title
	}
	return e.Title + " " + e.Content
}
