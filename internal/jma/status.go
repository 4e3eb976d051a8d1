package jma

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultClientError は再試行しても結果が変わらないステータス（4xx、429を除く）。
	FetchResultClientError
	// FetchResultTransient は一時的な障害（429/5xx）。
	FetchResultTransient
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 429:
		return FetchResultTransient
	case statusCode >= 400 && statusCode < 500:
		return FetchResultClientError
	case statusCode >= 500:
		return FetchResultTransient
	default:
		return FetchResultUnknown
	}
}
