// Package notify は通知メッセージの組み立てとSlackへの送信を提供する。
package notify

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/anpi/internal/model"
)

const (
	// DefaultTemplate はルールにテンプレートが無い場合の本文。
	DefaultTemplate = "安否確認を開始します: {title}"
	// Placeholder は電文の解析に失敗した項目の表示。
	Placeholder = "確認中"
	// DemoNationwide は試験モードで対象地域が抽出できなかった場合の通知対象。
	DemoNationwide = "デモ用全国通知（試験環境）"

	maxSummaryAreas = 5
)

// jst は発表時刻の表示に使うタイムゾーン。
var jst = time.FixedZone("Asia/Tokyo", 9*60*60)

var targetHintPattern = regexp.MustCompile(`対象目安[：:]\s*`)

// Target は本文に列挙する通知対象1件。
type Target struct {
	Label string
	// Kinds はこの対象について発表されている警報等の種別。空なら電文タイトルで代用する。
	Kinds []string
}

// RenderInput はメッセージ組み立ての入力。
type RenderInput struct {
	Rule   model.ActivationRule
	Mode   model.Mode
	Entry  model.FeedEntry
	Report *model.Report
	// Targets は一致した登録地点。空の場合は試験モードの代替表示を使う。
	Targets []Target
	// FollowUp は同一イベントの続報として送る場合にtrue。
	FollowUp bool
}

// Banner はモードごとの見出しを返す。
func Banner(mode model.Mode, menuType model.MenuType) string {
	switch mode {
	case model.ModeDrill:
		return "【訓練：" + strings.ToUpper(string(menuType)) + "】"
	case model.ModeTest:
		return "【試験：" + strings.ToUpper(string(menuType)) + "】"
	default:
		return "【緊急：安否確認】"
	}
}

// Footer はモードごとの回答依頼文を返す。
func Footer(mode model.Mode) string {
	switch mode {
	case model.ModeTest:
		return "※これはJMA連携試験による自動配信です。内容を確認し、問題なければ回答してください。"
	case model.ModeDrill:
		return "※これは訓練です。実際の災害ではありません。内容を確認し、回答してください。"
	default:
		return "上記の内容を確認し、速やかに回答してください。"
	}
}

// AreaSummary は地域名を先頭5件まで「、」で連結し、残りを「ほかN地点」と表す。
func AreaSummary(areas []string) string {
	if len(areas) == 0 {
		return ""
	}
	if len(areas) <= maxSummaryAreas {
		return strings.Join(areas, "、")
	}
	return strings.Join(areas[:maxSummaryAreas], "、") + "ほか" + strconv.Itoa(len(areas)-maxSummaryAreas) + "地点"
}

// TargetSummary は通知対象エリアの表示を返す。
// 一致した地点があればその一覧、無ければ電文の地域名の要約、それも無ければ全国通知の表示。
func TargetSummary(targets []Target, areas []string) string {
	if len(targets) > 0 {
		labels := make([]string, 0, len(targets))
		for _, t := range targets {
			labels = append(labels, t.Label)
		}
		return strings.Join(labels, "、")
	}
	if s := AreaSummary(areas); s != "" {
		return s
	}
	return DemoNationwide
}

// Render は通知本文を組み立てる。
func Render(in RenderInput) string {
	report := in.Report
	if report == nil {
		report = &model.Report{}
	}
	maxInt := ShindoLabel(valueOr(report.MaxIntensity, Placeholder))
	areas := report.AreaNames()
	summary := TargetSummary(in.Targets, areas)

	tmpl := in.Rule.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	body := strings.NewReplacer(
		`\n`, "\n",
		"{title}", in.Entry.Title,
		"{content}", in.Entry.Content,
		"{max_shindo}", "震度"+maxInt,
		"{target_summary}", summary,
	).Replace(tmpl)
	body = targetHintPattern.ReplaceAllString(body, "通知対象エリア：")

	banner := Banner(in.Mode, in.Rule.MenuType)
	if in.FollowUp {
		banner = "【続報】" + banner
	}

	lines := []string{banner}
	if in.Rule.MenuType == model.MenuEarthquake {
		lines = append(lines,
			"*対象の登録地点："+summary+"*",
			"最大震度：震度"+maxInt,
			"震源地："+valueOr(report.Epicenter, Placeholder),
			"（M"+valueOr(report.Magnitude, Placeholder)+" / 深さ："+valueOr(report.Depth, Placeholder)+"）",
		)
	} else {
		lines = append(lines, locationAlerts(in.Targets, areas, in.Entry.Title)...)
	}

	lines = append(lines, "", body)
	if report.TsunamiText != "" {
		lines = append(lines, "", report.TsunamiText)
	}
	lines = append(lines, "", "発表時刻: "+EventTime(in.Entry.UpdatedAt), "", Footer(in.Mode))

	return strings.Join(lines, "\n")
}

// locationAlerts は地震以外の「〇〇にて××が発表されています。」行を組み立てる。
func locationAlerts(targets []Target, areas []string, title string) []string {
	if len(targets) > 0 {
		out := make([]string, 0, len(targets))
		for _, t := range targets {
			what := title
			if len(t.Kinds) > 0 {
				what = strings.Join(t.Kinds, "・")
			}
			out = append(out, "*"+t.Label+"にて"+what+"が発表されています。*")
		}
		return out
	}
	if s := AreaSummary(areas); s != "" {
		return []string{"*" + s + "にて" + title + "が発表されています。*"}
	}
	return []string{"*対象の登録地点：" + DemoNationwide + "*"}
}

// ShindoLabel は電文の震度表記（例: "5-", "6+"）を表示用（"5弱", "6強"）に変換する。
func ShindoLabel(v string) string {
	switch {
	case strings.HasSuffix(v, "-"):
		return strings.TrimSuffix(v, "-") + "弱"
	case strings.HasSuffix(v, "+"):
		return strings.TrimSuffix(v, "+") + "強"
	default:
		return v
	}
}

// EventTime は発表時刻を日本時間で表示する。不明な場合は「不明」。
func EventTime(t *time.Time) string {
	if t == nil {
		return "不明"
	}
	return t.In(jst).Format("2006/1/2 15:04:05")
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
