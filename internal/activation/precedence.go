package activation

import "github.com/hitoshi/anpi/internal/model"

// precedence はメニュー種別ごとの電文種別の詳細度。値が大きいほど詳細な続報。
// 同一イベントで詳細度の高い電文が既に記録されていれば、それより粗い電文は抑止する。
var precedence = map[model.MenuType]map[string]int{
	model.MenuEarthquake: {
		"震度速報":              1,
		"震源に関する情報":          1,
		"震源・震度に関する情報":       2,
		"顕著な地震の震源要素更新のお知らせ": 3,
	},
	model.MenuTsunami: {
		"津波警報・注意報・予報":   1,
		"津波情報":          2,
		"沖合の津波観測に関する情報": 2,
	},
}

// Rank は電文種別の詳細度を返す。表に無い場合は (0, false)。
func Rank(menuType model.MenuType, title string) (int, bool) {
	table, ok := precedence[menuType]
	if !ok {
		return 0, false
	}
	rank, ok := table[title]
	return rank, ok
}

// RankOf はエントリのタイトル、次いで電文のタイトルの順に詳細度を引く。
func RankOf(menuType model.MenuType, titles ...string) (int, bool) {
	for _, t := range titles {
		if t == "" {
			continue
		}
		if rank, ok := Rank(menuType, t); ok {
			return rank, true
		}
	}
	return 0, false
}

// Decision は同一イベントの既存インシデントに対する扱い。
type Decision int

const (
	// DecisionCreate は新規インシデントを作成する。
	DecisionCreate Decision = iota
	// DecisionSuppress は既存インシデントが同等以上に詳細なため何もしない。
	DecisionSuppress
	// DecisionSupersede は既存インシデントを続報の内容で更新する。
	DecisionSupersede
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionSuppress:
		return "suppress"
	case DecisionSupersede:
		return "supersede"
	default:
		return "unknown"
	}
}

// Decide は同一イベントの既存インシデント（最も詳細度の高いもの）と新しい電文の詳細度から扱いを決める。
// 詳細度の表が無い種別では、同一イベントのインシデントが既にあれば抑止する。
func Decide(existing *model.Incident, rank int, ranked bool) Decision {
	if existing == nil {
		return DecisionCreate
	}
	if !ranked || existing.ReportRank >= rank {
		return DecisionSuppress
	}
	return DecisionSupersede
}
