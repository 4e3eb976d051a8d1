// Package activation はフィードエントリに対する発報判定を提供する。
package activation

import (
	"sort"
	"strings"

	"github.com/hitoshi/anpi/internal/model"
)

// eqvolFeedMarker は地震・津波・火山フィードのURLに含まれる識別子。
const eqvolFeedMarker = "eqvol"

// Activation はエントリ・ルール・モードの組で、インシデント作成の対象となるもの。
type Activation struct {
	Entry model.FeedEntry
	Rule  model.ActivationRule
	Mode  model.Mode
}

// Prioritize は地震・津波・火山フィードのエントリを先頭に、次いで更新日時の新しい順に並べ、
// 先頭limit件を返す。limit以下ならすべて返す。
// 更新日時が無いエントリは同じグループ内で最後に並ぶ。
func Prioritize(entries []model.FeedEntry, limit int) []model.FeedEntry {
	sorted := make([]model.FeedEntry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		eqA := strings.Contains(a.SourceFeed, eqvolFeedMarker)
		eqB := strings.Contains(b.SourceFeed, eqvolFeedMarker)
		if eqA != eqB {
			return eqA
		}
		switch {
		case a.UpdatedAt == nil:
			return false
		case b.UpdatedAt == nil:
			return true
		default:
			return a.UpdatedAt.After(*b.UpdatedAt)
		}
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Evaluate は各エントリを全ルールで判定する。
// 本番キーワードに一致したルールでは試験判定を行わない。
// キーワードが空のモードは発報しない。
func Evaluate(entries []model.FeedEntry, rules []model.ActivationRule) []Activation {
	ordered := orderRules(rules)

	var out []Activation
	for _, e := range entries {
		text := e.SearchText()
		for _, rule := range ordered {
			if !rule.Enabled && !rule.TestEnabled {
				continue
			}
			if rule.Enabled && matchAny(text, rule.Keywords) {
				out = append(out, Activation{Entry: e, Rule: rule, Mode: model.ModeProduction})
				continue
			}
			if rule.TestEnabled && matchAny(text, rule.TestKeywords) {
				out = append(out, Activation{Entry: e, Rule: rule, Mode: model.ModeTest})
			}
		}
	}
	return out
}

// matchAny はいずれかのキーワードがtextに部分一致すればtrueを返す。
// 空白のみのキーワードは全件一致になるため無視する。
func matchAny(text string, keywords []string) bool {
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// orderRules は既知のメニュー種別の定義順、未知の種別は名前順に並べる。
func orderRules(rules []model.ActivationRule) []model.ActivationRule {
	index := make(map[model.MenuType]int, len(model.KnownMenuTypes))
	for i, m := range model.KnownMenuTypes {
		index[m] = i
	}
	rank := func(m model.MenuType) int {
		if i, ok := index[m]; ok {
			return i
		}
		return len(index)
	}

	ordered := make([]model.ActivationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := rank(ordered[i].MenuType), rank(ordered[j].MenuType)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].MenuType < ordered[j].MenuType
	})
	return ordered
}
