package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/anpi/internal/middleware"
	"github.com/hitoshi/anpi/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// statusForCode はエラーコードに対応するHTTPステータスを返す。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidPayload, model.ErrCodeInvalidStatus, model.ErrCodeInvalidMenuType:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeFeatureDisabled:
		return http.StatusForbidden
	case model.ErrCodeIncidentNotFound:
		return http.StatusNotFound
	case model.ErrCodeNoActiveIncident:
		return http.StatusConflict
	case model.ErrCodeNoSinkConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外は詳細をログにのみ記録する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
		return
	}
	logger.Error("リクエストの処理に失敗しました", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// decodeJSON はボディをJSONとして読み込む。空ボディはエラー。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewInvalidPayloadError("ボディが空です")
		}
		return model.NewInvalidPayloadError("JSONの解析に失敗しました")
	}
	return nil
}
