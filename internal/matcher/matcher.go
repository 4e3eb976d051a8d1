// Package matcher は電文の対象地域と登録地点の照合を提供する。
package matcher

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/anpi/internal/model"
)

// Recipient は個人登録地点のみが一致した場合の通知先（所有者単位）。
type Recipient struct {
	OwnerID     string
	DisplayName string
	// SlackUserID が空の場合はメンションなしで送信する。
	SlackUserID string
	Locations   []string
}

// Target は一致した地点1件と、一致した電文側の地域名。
type Target struct {
	Label string
	Areas []string
	// OwnerID は個人地点の所有者。組織拠点では空。
	OwnerID string
}

// Result は照合結果。
type Result struct {
	SystemMatches []model.Location
	UserMatches   []model.Location
	// Targets は一致した地点を組織拠点、個人地点の順に並べたもの。
	Targets []Target
	// Broadcast は組織拠点が1件以上一致し、全体メンションで通知することを示す。
	Broadcast bool
	// Recipients はBroadcastでない場合の所有者ごとの通知先。
	Recipients []Recipient
}

// Empty は一致した地点が無いかを返す。
func (r *Result) Empty() bool {
	return len(r.SystemMatches) == 0 && len(r.UserMatches) == 0
}

// Labels は通知対象エリアとして表示する地点名を返す。
// 組織拠点は "ラベル(市区町村)"、個人地点は "表示名(市区町村)"。
func (r *Result) Labels() []string {
	labels := make([]string, 0, len(r.Targets))
	for _, t := range r.Targets {
		labels = append(labels, t.Label)
	}
	return labels
}

// Input は照合に必要な入力。
type Input struct {
	MenuType  model.MenuType
	AreaNames []string
	System    []model.Location
	User      []model.Location
	Profiles  []model.Profile
	Now       time.Time
}

// Match は電文の地域名と登録地点を双方向の部分一致で照合する。
// 地震は市区町村のみ、それ以外は市区町村または細分区域名で一致とする。
// 有効期限切れの組織拠点は対象外。
func Match(in Input) Result {
	names := normalizeAll(in.AreaNames)
	cityOnly := in.MenuType == model.MenuEarthquake

	var res Result
	for _, loc := range in.System {
		if !loc.ActiveAt(in.Now) {
			continue
		}
		if areas := matchedAreas(loc, names, cityOnly); len(areas) > 0 {
			res.SystemMatches = append(res.SystemMatches, loc)
			res.Targets = append(res.Targets, Target{Label: systemLabel(loc), Areas: areas})
		}
	}
	for _, loc := range in.User {
		if areas := matchedAreas(loc, names, cityOnly); len(areas) > 0 {
			res.UserMatches = append(res.UserMatches, loc)
			res.Targets = append(res.Targets, Target{Label: userLabel(loc), Areas: areas, OwnerID: loc.OwnerID})
		}
	}

	if len(res.SystemMatches) > 0 {
		res.Broadcast = true
		return res
	}
	res.Recipients = groupByOwner(res.UserMatches, in.Profiles)
	return res
}

// matchedAreas は地点に一致した電文側の地域名を返す。一致が無ければnil。
func matchedAreas(loc model.Location, names []areaName, cityOnly bool) []string {
	city := normalize(loc.City)
	if city == "" {
		return nil
	}
	out := containing(names, city)
	if cityOnly {
		return out
	}
	if area := normalize(loc.AreaName); area != "" {
		for _, n := range containing(names, area) {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// containing はregと互いに部分文字列の関係にある地域名を返す。
func containing(names []areaName, reg string) []string {
	var out []string
	for _, n := range names {
		if strings.Contains(n.normalized, reg) || strings.Contains(reg, n.normalized) {
			out = append(out, n.raw)
		}
	}
	return out
}

func systemLabel(l model.Location) string {
	return fmt.Sprintf("%s(%s)", l.Label, l.City)
}

func userLabel(l model.Location) string {
	return fmt.Sprintf("%s(%s)", l.DisplayName, l.City)
}

func groupByOwner(locs []model.Location, profiles []model.Profile) []Recipient {
	byID := make(map[string]model.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.UserID] = p
	}

	index := make(map[string]int)
	var out []Recipient
	for _, l := range locs {
		i, ok := index[l.OwnerID]
		if !ok {
			p := byID[l.OwnerID]
			name := l.DisplayName
			if name == "" {
				name = p.DisplayName
			}
			out = append(out, Recipient{OwnerID: l.OwnerID, DisplayName: name, SlackUserID: p.SlackUserID})
			i = len(out) - 1
			index[l.OwnerID] = i
		}
		out[i].Locations = append(out[i].Locations, userLabel(l))
	}
	return out
}

// normalize はNFKC正規化と前後の空白除去を行う。
func normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// areaName は電文側の地域名と正規化後の値の組。
type areaName struct {
	raw        string
	normalized string
}

func normalizeAll(names []string) []areaName {
	out := make([]areaName, 0, len(names))
	for _, n := range names {
		if v := normalize(n); v != "" {
			out = append(out, areaName{raw: n, normalized: v})
		}
	}
	return out
}
