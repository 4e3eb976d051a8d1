package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/anpi/internal/middleware"
	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/response"
)

const (
	workflowSecretHeader = "x-anpi-secret"
	workflowSecretQuery  = "secret"
)

// ResponseRecorder は安否回答を記録する。
type ResponseRecorder interface {
	HandleInteraction(ctx context.Context, in response.Interaction) (string, error)
	HandleSubmission(ctx context.Context, sub response.Submission) (*model.Response, error)
}

// SlackHandler はSlackからの安否回答を受け付けるHTTPハンドラー。
// 回答ボタンの押下（payloadフォーム）と、ワークフローや外部システムからの直接送信の2経路を扱う。
type SlackHandler struct {
	recorder       ResponseRecorder
	workflowSecret string
	logger         *slog.Logger
}

// NewSlackHandler はSlackHandlerを生成する。
func NewSlackHandler(recorder ResponseRecorder, workflowSecret string, logger *slog.Logger) *SlackHandler {
	return &SlackHandler{recorder: recorder, workflowSecret: workflowSecret, logger: logger}
}

// interactionPayload はSlackのblock_actionsペイロードのうち使用する部分。
type interactionPayload struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Actions []struct {
		Value string `json:"value"`
		Text  struct {
			Text string `json:"text"`
		} `json:"text"`
	} `json:"actions"`
}

// submissionRequest は直接送信の回答。slack_user_id は respondent_id の別名。
type submissionRequest struct {
	IncidentID   string `json:"incident_id"`
	RespondentID string `json:"respondent_id"`
	SlackUserID  string `json:"slack_user_id"`
	Status       string `json:"status"`
	Comment      string `json:"comment"`
}

func (s submissionRequest) toSubmission() response.Submission {
	respondent := s.RespondentID
	if respondent == "" {
		respondent = s.SlackUserID
	}
	return response.Submission{
		IncidentID:   s.IncidentID,
		RespondentID: respondent,
		Status:       s.Status,
		Comment:      s.Comment,
	}
}

// Receive は安否回答を受け付ける。
// POST /api/slack/responses
func (h *SlackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	isForm := strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")

	if isForm {
		if err := r.ParseForm(); err != nil {
			handleServiceError(w, h.logger, model.NewInvalidPayloadError("フォームの解析に失敗しました"))
			return
		}
		if in, ok := parseInteraction(r.PostForm.Get("payload")); ok {
			h.receiveInteraction(w, r, in)
			return
		}
	}

	if !middleware.SecretMatches(r, h.workflowSecret, workflowSecretHeader, workflowSecretQuery) {
		middleware.WriteFailure(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req submissionRequest
	if isForm {
		req = submissionRequest{
			IncidentID:   r.PostForm.Get("incident_id"),
			RespondentID: r.PostForm.Get("respondent_id"),
			SlackUserID:  r.PostForm.Get("slack_user_id"),
			Status:       r.PostForm.Get("status"),
			Comment:      r.PostForm.Get("comment"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, h.logger, model.NewInvalidPayloadError("JSONの解析に失敗しました"))
		return
	}

	resp, err := h.recorder.HandleSubmission(r.Context(), req.toSubmission())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"response_id": resp.ID,
		"incident_id": resp.IncidentID,
	})
}

// receiveInteraction は回答ボタンの押下を記録し、押下したユーザーに表示する文言を返す。
// 回答として受け付けられない場合も、理由をユーザーに見せるため200で返す。
func (h *SlackHandler) receiveInteraction(w http.ResponseWriter, r *http.Request, in response.Interaction) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	text, err := h.recorder.HandleInteraction(r.Context(), in)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(apiErr.Message))
			return
		}
		h.logger.Error("回答の保存に失敗しました",
			slog.String("user_id", in.UserID),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Database error"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// parseInteraction はpayloadから最初のアクションを取り出す。ボタン押下として扱えなければfalse。
func parseInteraction(raw string) (response.Interaction, bool) {
	if raw == "" {
		return response.Interaction{}, false
	}
	var p interactionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return response.Interaction{}, false
	}
	if len(p.Actions) == 0 || p.Actions[0].Value == "" || p.User.ID == "" {
		return response.Interaction{}, false
	}
	return response.Interaction{
		UserID:     p.User.ID,
		Value:      p.Actions[0].Value,
		ActionText: p.Actions[0].Text.Text,
	}, true
}
