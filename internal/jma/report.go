package jma

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/anpi/internal/model"
)

// node は電文XMLを名前空間を無視して保持する最小限の木構造。
type node struct {
	name     string
	attrs    map[string]string
	text     string
	children []*node
}

func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) all(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// path は子要素を順にたどる。途中で見つからなければnil。
func (n *node) path(names ...string) *node {
	cur := n
	for _, name := range names {
		cur = cur.child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (n *node) value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.text)
}

func decodeTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("XMLの読み取りに失敗: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(t.Attr) > 0 {
				n.attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("ルート要素が複数あります")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("ルート要素がありません")
	}
	return root, nil
}

// ParseReport は詳細電文XMLから発報判定と通知に必要な情報を抽出する。
//
// 地域の抽出は次の形だけを対象にし、それ以外の要素は無視する。
//   - Item: Kind/Name（Category/Kind/Nameを含む）と Area/Name、Areas/Area/Name の組
//   - Pref/Area/City の入れ子: Area/Name と City/Name
//   - 単独の Area/Name
func ParseReport(r io.Reader) (*model.Report, error) {
	root, err := decodeTree(r)
	if err != nil {
		return nil, err
	}
	if root.name != "Report" {
		return nil, fmt.Errorf("想定外のルート要素です: %s", root.name)
	}

	head := root.child("Head")
	body := root.child("Body")

	report := &model.Report{
		Title:    root.path("Control", "Title").value(),
		EventID:  head.child("EventID").value(),
		InfoType: head.child("InfoType").value(),
		Headline: head.path("Headline", "Text").value(),
	}
	if report.Title == "" {
		report.Title = head.child("Title").value()
	}

	if eq := body.child("Earthquake"); eq != nil {
		hypo := eq.path("Hypocenter", "Area")
		report.Epicenter = hypo.child("Name").value()
		report.Depth = depthFromCoordinate(hypo.child("Coordinate"))
		report.Magnitude = magnitudeText(eq.child("Magnitude"))
	}
	report.MaxIntensity = body.path("Intensity", "Observation", "MaxInt").value()

	comments := body.child("Comments")
	report.TsunamiText = comments.path("WarningComment", "Text").value()
	if report.TsunamiText == "" {
		report.TsunamiText = comments.path("ForecastComment", "Text").value()
	}

	areas := newAreaSet()
	for _, info := range head.child("Headline").all("Information") {
		collectAreas(info, areas)
	}
	if body != nil {
		for _, c := range body.children {
			switch c.name {
			case "Earthquake", "Comments", "Text", "Naming":
				continue
			}
			collectAreas(c, areas)
		}
	}
	report.Areas = areas.list()

	return report, nil
}

// collectAreas は地域と種別の組を再帰的に収集する。
func collectAreas(n *node, set *areaSet) {
	switch n.name {
	case "Item":
		kinds := itemKinds(n)
		names := nodeNames(n.all("Area"))
		for _, areas := range n.all("Areas") {
			names = append(names, nodeNames(areas.all("Area"))...)
		}
		for _, name := range names {
			set.add(name, kinds)
		}
		return
	case "Area", "City":
		set.add(n.child("Name").value(), nil)
		for _, c := range n.children {
			if c.name == "City" || c.name == "Area" {
				collectAreas(c, set)
			}
		}
		return
	case "Kind", "Category", "IntensityStation", "Station":
		return
	}
	for _, c := range n.children {
		collectAreas(c, set)
	}
}

func itemKinds(item *node) []string {
	kinds := append([]*node{}, item.all("Kind")...)
	for _, cat := range item.all("Category") {
		kinds = append(kinds, cat.all("Kind")...)
	}
	var out []string
	for _, k := range kinds {
		if k.child("Status").value() == "解除" {
			continue
		}
		if name := k.child("Name").value(); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func nodeNames(nodes []*node) []string {
	var out []string
	for _, n := range nodes {
		if name := n.child("Name").value(); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// depthFromCoordinate は座標のdescription属性（例: "北緯３７．５度　東経１３７．３度　深さ　１０ｋｍ"）から深さを取り出す。
func depthFromCoordinate(coord *node) string {
	if coord == nil {
		return ""
	}
	desc := norm.NFKC.String(coord.attrs["description"])
	if strings.Contains(desc, "ごく浅い") {
		return "ごく浅い"
	}
	_, after, found := strings.Cut(desc, "深さ")
	if !found {
		return ""
	}
	return strings.Join(strings.Fields(after), "")
}

// magnitudeText はマグニチュードの値を返す。値が不明（NaN）の場合はdescriptionを使う。
func magnitudeText(mag *node) string {
	if mag == nil {
		return ""
	}
	v := mag.value()
	if v != "" && v != "NaN" {
		return v
	}
	desc := strings.TrimSpace(norm.NFKC.String(mag.attrs["description"]))
	return strings.TrimPrefix(desc, "M")
}

// areaSet は出現順を保ったまま地域名ごとに種別を集約する。
type areaSet struct {
	order []string
	kinds map[string][]string
}

func newAreaSet() *areaSet {
	return &areaSet{kinds: make(map[string][]string)}
}

func (s *areaSet) add(name string, kinds []string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	existing, ok := s.kinds[name]
	if !ok {
		s.order = append(s.order, name)
	}
	for _, k := range kinds {
		if !contains(existing, k) {
			existing = append(existing, k)
		}
	}
	s.kinds[name] = existing
}

func (s *areaSet) list() []model.AreaHazard {
	out := make([]model.AreaHazard, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, model.AreaHazard{Name: name, Kinds: s.kinds[name]})
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
