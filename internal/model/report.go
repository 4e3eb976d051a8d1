package model

// AreaHazard は詳細電文から抽出した地域名とその発表種別。
type AreaHazard struct {
	Name  string
	Kinds []string
}

// Report は詳細電文（気象庁防災情報XML）から抽出した災害情報。
type Report struct {
	Title        string
	EventID      string
	InfoType     string
	Headline     string
	MaxIntensity string
	Epicenter    string
	Magnitude    string
	Depth        string
	TsunamiText  string
	Areas        []AreaHazard
}

// AreaNames は抽出された地域名を出現順に返す。
func (r *Report) AreaNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Areas))
	for _, a := range r.Areas {
		names = append(names, a.Name)
	}
	return names
}

// KindsFor は指定地域名に対して発表されている種別を返す。
func (r *Report) KindsFor(area string) []string {
	if r == nil {
		return nil
	}
	for _, a := range r.Areas {
		if a.Name == area {
			return a.Kinds
		}
	}
	return nil
}
