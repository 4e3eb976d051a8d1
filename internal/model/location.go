package model

import "time"

// LocationKind は拠点の登録区分を表す。
type LocationKind string

const (
	// LocationSystem は組織として登録された拠点。
	LocationSystem LocationKind = "system"
	// LocationUser は利用者個人が登録した地点。
	LocationUser LocationKind = "user"
)

// TargetGroup は組織拠点の通知対象区分。
type TargetGroup string

const (
	TargetAll        TargetGroup = "all"
	TargetCorporate  TargetGroup = "corporate"
	TargetIndividual TargetGroup = "individual"
)

// Location は組織拠点または個人登録地点を表す。
// City が空の地点はどの地域名ともマッチしない。
type Location struct {
	ID          string
	Kind        LocationKind
	Label       string
	TargetGroup TargetGroup
	IsPermanent bool
	ValidUntil  *time.Time
	OwnerID     string
	DisplayName string
	Prefecture  string
	City        string
	AreaName    string
	AreaCode    string
}

// ActiveAt は組織拠点が指定時刻に有効かどうかを返す。個人地点は常に有効。
func (l *Location) ActiveAt(now time.Time) bool {
	if l.Kind != LocationSystem || l.IsPermanent || l.ValidUntil == nil {
		return true
	}
	return !l.ValidUntil.Before(now)
}

// Profile は利用者のプロフィール。SlackUserID はメンション先の解決に使う。
type Profile struct {
	UserID      string
	DisplayName string
	SlackUserID string
}
