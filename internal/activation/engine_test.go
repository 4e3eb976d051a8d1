package activation

import (
	"testing"
	"time"

	"github.com/hitoshi/anpi/internal/model"
)

func ts(minute int) *time.Time {
	t := time.Date(2024, 1, 1, 7, minute, 0, 0, time.UTC)
	return &t
}

// TestPrioritize は地震・津波・火山フィードを優先し、更新日時の降順に並べることをテストする。
func TestPrioritize(t *testing.T) {
	entries := []model.FeedEntry{
		{EntryKey: "extra-old", SourceFeed: "https://x/extra.xml", UpdatedAt: ts(1)},
		{EntryKey: "eqvol-nil", SourceFeed: "https://x/eqvol.xml"},
		{EntryKey: "extra-new", SourceFeed: "https://x/extra.xml", UpdatedAt: ts(30)},
		{EntryKey: "eqvol-old", SourceFeed: "https://x/eqvol.xml", UpdatedAt: ts(5)},
		{EntryKey: "eqvol-new", SourceFeed: "https://x/eqvol.xml", UpdatedAt: ts(10)},
	}

	got := Prioritize(entries, 0)
	want := []string{"eqvol-new", "eqvol-old", "eqvol-nil", "extra-new", "extra-old"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, key := range want {
		if got[i].EntryKey != key {
			t.Errorf("[%d] = %s, want %s", i, got[i].EntryKey, key)
		}
	}

	// 元のスライスは並べ替えない
	if entries[0].EntryKey != "extra-old" {
		t.Error("入力スライスが変更されました")
	}
}

func TestPrioritize_Limit(t *testing.T) {
	entries := []model.FeedEntry{
		{EntryKey: "a", SourceFeed: "regular", UpdatedAt: ts(1)},
		{EntryKey: "b", SourceFeed: "regular", UpdatedAt: ts(2)},
		{EntryKey: "c", SourceFeed: "eqvol", UpdatedAt: ts(0)},
	}
	got := Prioritize(entries, 2)
	if len(got) != 2 || got[0].EntryKey != "c" || got[1].EntryKey != "b" {
		t.Errorf("Prioritize(limit=2) = %+v", got)
	}
}

// TestEvaluate_ProductionSuppressesTest は本番一致時に同一ルールの試験判定を行わないことをテストする。
func TestEvaluate_ProductionSuppressesTest(t *testing.T) {
	rules := []model.ActivationRule{{
		MenuType:     model.MenuHeavyRain,
		Enabled:      true,
		Keywords:     []string{"大雨特別警報"},
		TestEnabled:  true,
		TestKeywords: []string{"大雨"},
	}}
	entries := []model.FeedEntry{{EntryKey: "e1", Title: "大雨特別警報発表"}}

	got := Evaluate(entries, rules)
	if len(got) != 1 {
		t.Fatalf("activations = %d, want 1", len(got))
	}
	if got[0].Mode != model.ModeProduction {
		t.Errorf("Mode = %s, want production", got[0].Mode)
	}
}

// TestEvaluate_TestIndependentOfOtherRules は試験判定が他ルールの本番一致に影響されないことをテストする。
func TestEvaluate_TestIndependentOfOtherRules(t *testing.T) {
	rules := []model.ActivationRule{
		{MenuType: model.MenuTsunami, TestEnabled: true, TestKeywords: []string{"震度"}},
		{MenuType: model.MenuEarthquake, Enabled: true, Keywords: []string{"震度"}},
	}
	entries := []model.FeedEntry{{EntryKey: "e1", Title: "震度速報"}}

	got := Evaluate(entries, rules)
	if len(got) != 2 {
		t.Fatalf("activations = %d, want 2", len(got))
	}
	// メニュー種別の定義順で評価される
	if got[0].Rule.MenuType != model.MenuEarthquake || got[0].Mode != model.ModeProduction {
		t.Errorf("[0] = %s/%s", got[0].Rule.MenuType, got[0].Mode)
	}
	if got[1].Rule.MenuType != model.MenuTsunami || got[1].Mode != model.ModeTest {
		t.Errorf("[1] = %s/%s", got[1].Rule.MenuType, got[1].Mode)
	}
}

// TestEvaluate_EmptyKeywordsNeverFire はキーワード未設定のモードが発報しないことをテストする。
func TestEvaluate_EmptyKeywordsNeverFire(t *testing.T) {
	rules := []model.ActivationRule{
		{MenuType: model.MenuEarthquake, Enabled: true, Keywords: nil, TestEnabled: true, TestKeywords: []string{}},
		{MenuType: model.MenuFlood, Enabled: true, Keywords: []string{"", "  "}},
	}
	entries := []model.FeedEntry{{EntryKey: "e1", Title: "震度速報", Content: "洪水"}}

	if got := Evaluate(entries, rules); len(got) != 0 {
		t.Errorf("activations = %+v, want none", got)
	}
}

func TestEvaluate_DisabledRule(t *testing.T) {
	rules := []model.ActivationRule{
		{MenuType: model.MenuEarthquake, Enabled: false, Keywords: []string{"震度"}, TestEnabled: false, TestKeywords: []string{"震度"}},
	}
	if got := Evaluate([]model.FeedEntry{{Title: "震度速報"}}, rules); len(got) != 0 {
		t.Errorf("activations = %+v, want none", got)
	}
}

// TestEvaluate_MatchesContent は本文テキストもキーワード照合の対象になることをテストする。
func TestEvaluate_MatchesContent(t *testing.T) {
	rules := []model.ActivationRule{{MenuType: model.MenuCivilProtection, Enabled: true, Keywords: []string{"弾道ミサイル"}}}
	entries := []model.FeedEntry{{EntryKey: "e1", Title: "国民保護情報", Content: "弾道ミサイル発射。"}}

	got := Evaluate(entries, rules)
	if len(got) != 1 || got[0].Entry.EntryKey != "e1" {
		t.Errorf("activations = %+v", got)
	}
}
