package jma

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func openTestdata(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	if err != nil {
		t.Fatalf("テストデータを開けません: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// TestParseReport_Earthquake は震源・震度情報から地震要素を抽出できることをテストする。
func TestParseReport_Earthquake(t *testing.T) {
	report, err := ParseReport(openTestdata(t, "earthquake.xml"))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}

	checks := map[string][2]string{
		"Title":        {report.Title, "震源・震度に関する情報"},
		"EventID":      {report.EventID, "20240101161018"},
		"InfoType":     {report.InfoType, "発表"},
		"Epicenter":    {report.Epicenter, "石川県能登地方"},
		"Magnitude":    {report.Magnitude, "7.6"},
		"Depth":        {report.Depth, "10km"},
		"MaxIntensity": {report.MaxIntensity, "7"},
		"TsunamiText":  {report.TsunamiText, "この地震について、大津波警報を発表しています。"},
	}
	for field, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", field, c[0], c[1])
		}
	}

	if !strings.HasPrefix(report.Headline, "１日１６時１０分ころ") {
		t.Errorf("Headline = %q", report.Headline)
	}

	wantAreas := []string{"志賀町", "石川県能登", "輪島市"}
	if got := report.AreaNames(); !reflect.DeepEqual(got, wantAreas) {
		t.Errorf("AreaNames() = %v, want %v", got, wantAreas)
	}
	if kinds := report.KindsFor("志賀町"); !reflect.DeepEqual(kinds, []string{"震度７"}) {
		t.Errorf("KindsFor(志賀町) = %v", kinds)
	}
	for _, a := range report.AreaNames() {
		if a == "石川県能登地方" || a == "志賀町香能＊" {
			t.Errorf("震源地・観測点名が地域に含まれています: %s", a)
		}
	}
}

// TestParseReport_Warning は警報のItemから地域と種別の組を抽出できることをテストする。
func TestParseReport_Warning(t *testing.T) {
	report, err := ParseReport(openTestdata(t, "warning.xml"))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}

	if report.EventID != "" {
		t.Errorf("EventID = %q, want empty", report.EventID)
	}
	if report.Title != "気象警報・注意報（Ｈ２７）" {
		t.Errorf("Title = %q", report.Title)
	}
	if got := report.AreaNames(); !reflect.DeepEqual(got, []string{"稚内市", "猿払村"}) {
		t.Errorf("AreaNames() = %v", got)
	}
	// 解除された種別は含めず、同一地域の種別は重複なく統合する
	if got := report.KindsFor("稚内市"); !reflect.DeepEqual(got, []string{"大雨特別警報", "雷注意報"}) {
		t.Errorf("KindsFor(稚内市) = %v", got)
	}
	if report.Epicenter != "" || report.Magnitude != "" {
		t.Errorf("地震要素が設定されています: %+v", report)
	}
}

func TestParseReport_Tsunami(t *testing.T) {
	xml := `<Report><Control><Title>津波警報・注意報・予報</Title></Control>
<Head><EventID>20240101161018</EventID><InfoType>発表</InfoType></Head>
<Body><Tsunami><Forecast>
  <Item><Area><Name>石川県能登</Name></Area><Category><Kind><Name>大津波警報</Name></Kind></Category></Item>
  <Item><Area><Name>新潟県上中下越</Name></Area><Category><Kind><Name>津波警報</Name></Kind></Category></Item>
</Forecast></Tsunami>
<Comments><WarningComment><Text>ただちに避難してください。</Text></WarningComment></Comments></Body></Report>`

	report, err := ParseReport(strings.NewReader(xml))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if got := report.KindsFor("石川県能登"); !reflect.DeepEqual(got, []string{"大津波警報"}) {
		t.Errorf("KindsFor(石川県能登) = %v", got)
	}
	if report.TsunamiText != "ただちに避難してください。" {
		t.Errorf("TsunamiText = %q", report.TsunamiText)
	}
}

// TestParseReport_MagnitudeDescription は値が不明な場合にdescriptionを使うことをテストする。
func TestParseReport_MagnitudeDescription(t *testing.T) {
	xml := `<Report><Head/><Body><Earthquake><Hypocenter><Area><Name>茨城県南部</Name>
<Coordinate description="北緯３６．１度　東経１４０．１度　ごく浅い">+36.1+140.1+0/</Coordinate></Area></Hypocenter>
<Magnitude type="Mj" condition="不明" description="Ｍ不明">NaN</Magnitude></Earthquake></Body></Report>`

	report, err := ParseReport(strings.NewReader(xml))
	if err != nil {
		t.Fatalf("ParseReport() error = %v", err)
	}
	if report.Magnitude != "不明" {
		t.Errorf("Magnitude = %q, want 不明", report.Magnitude)
	}
	if report.Depth != "ごく浅い" {
		t.Errorf("Depth = %q, want ごく浅い", report.Depth)
	}
}

func TestParseReport_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"空", ""},
		{"壊れたXML", "<Report><Head>"},
		{"別のルート要素", "<feed></feed>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseReport(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
