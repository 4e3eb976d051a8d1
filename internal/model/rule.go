package model

// MenuType は災害種別（アクティベーションメニュー）を表す。
type MenuType string

const (
	MenuEarthquake      MenuType = "earthquake"
	MenuTsunami         MenuType = "tsunami"
	MenuHeavyRain       MenuType = "heavy_rain"
	MenuFlood           MenuType = "flood"
	MenuCivilProtection MenuType = "civil_protection"
)

// KnownMenuTypes は既知のメニュー種別を表示順に並べたもの。
var KnownMenuTypes = []MenuType{
	MenuEarthquake,
	MenuTsunami,
	MenuHeavyRain,
	MenuFlood,
	MenuCivilProtection,
}

// Label はメニュー種別の日本語表示名を返す。未知の種別はそのまま返す。
func (m MenuType) Label() string {
	switch m {
	case MenuEarthquake:
		return "地震"
	case MenuTsunami:
		return "津波"
	case MenuHeavyRain:
		return "大雨"
	case MenuFlood:
		return "洪水"
	case MenuCivilProtection:
		return "国民保護"
	default:
		return string(m)
	}
}

// IsKnown は既知のメニュー種別かどうかを返す。
func (m MenuType) IsKnown() bool {
	for _, k := range KnownMenuTypes {
		if k == m {
			return true
		}
	}
	return false
}

// Mode はインシデントの発報モードを表す。
type Mode string

const (
	// ModeProduction は本番の安否確認。
	ModeProduction Mode = "production"
	// ModeDrill は手動で開始する訓練。
	ModeDrill Mode = "drill"
	// ModeTest はパイプライン疎通確認のための自動試験。
	ModeTest Mode = "test"
)

// DefaultChannel はルールに通知チャンネルが設定されていない場合の既定値。
const DefaultChannel = "dm"

// ActivationRule はメニュー種別ごとの発報ルール。運用者が管理し、パイプラインからは読み取り専用。
type ActivationRule struct {
	MenuType     MenuType
	Enabled      bool
	Keywords     []string
	TestEnabled  bool
	TestKeywords []string
	Template     string
	Channel      string
}

// ChannelOrDefault はルールの通知チャンネルを返す。未設定の場合は DefaultChannel。
func (r *ActivationRule) ChannelOrDefault() string {
	if r.Channel == "" {
		return DefaultChannel
	}
	return r.Channel
}
