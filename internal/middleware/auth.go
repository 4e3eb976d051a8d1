// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/repository"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// triggerContextKey はリクエストコンテキストに認証方式を格納するためのキー。
var triggerContextKey = contextKey("trigger")

// 認証方式
const (
	TriggerToken      = "token"
	TriggerVercelCron = "vercel_cron"
)

const (
	cronSecretHeader   = "x-cron-secret"
	vercelCronHeader   = "x-vercel-cron"
	vercelCronUAPrefix = "vercel-cron/"
)

// TriggerEvidence はトリガーの認証判定に用いた情報。
// トークンとUser-Agentは先頭のみを残して記録する。
type TriggerEvidence struct {
	HasValidToken    bool
	TokenPreview     string
	VercelCronHeader string
	IsVercelCron     bool
	UserAgentPreview string
}

// Map はmetadata保存用のマップに変換する。
func (e TriggerEvidence) Map() map[string]any {
	return map[string]any{
		"has_valid_token":        e.HasValidToken,
		"received_token_preview": e.TokenPreview,
		"vercel_cron_header":     e.VercelCronHeader,
		"is_vercel_cron":         e.IsVercelCron,
		"user_agent_preview":     e.UserAgentPreview,
	}
}

// TriggerRecorder はトリガーの認証結果を記録する。
type TriggerRecorder interface {
	RecordTrigger(ctx context.Context, ev TriggerEvidence, authorized bool)
}

// NewCronAuthMiddleware は定期実行トリガーの認証ミドルウェアを返す。
// x-cron-secret ヘッダーまたは token クエリが secret と一致するか、
// x-vercel-cron: 1 またはUser-Agentが vercel-cron/ で始まる場合に通す。
// それ以外は401を返す。判定結果は成否にかかわらず recorder に渡す。
func NewCronAuthMiddleware(secret string, recorder TriggerRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(cronSecretHeader)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			ua := r.Header.Get("User-Agent")
			cronHeader := r.Header.Get(vercelCronHeader)

			ev := TriggerEvidence{
				HasValidToken:    secretEqual(token, secret),
				TokenPreview:     preview(token, 4),
				VercelCronHeader: cronHeader,
				IsVercelCron:     cronHeader == "1" || strings.HasPrefix(ua, vercelCronUAPrefix),
				UserAgentPreview: preview(ua, 20),
			}
			authorized := ev.HasValidToken || ev.IsVercelCron
			if recorder != nil {
				recorder.RecordTrigger(r.Context(), ev, authorized)
			}
			if !authorized {
				WriteFailure(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			kind := TriggerToken
			if !ev.HasValidToken {
				kind = TriggerVercelCron
			}
			setTrigger(r.Context(), kind)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), triggerContextKey, kind)))
		})
	}
}

// NewSecretGuardMiddleware は共有シークレットによる認証ミドルウェアを返す。
// header またはクエリパラメータ query の値が secret と一致しない場合は401を返す。
// secret が未設定の場合はすべて拒否する。
func NewSecretGuardMiddleware(secret, header, query string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SecretMatches(r, secret, header, query) {
				WriteFailure(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecretMatches はリクエストのヘッダーまたはクエリの値が secret と一致するかを返す。
func SecretMatches(r *http.Request, secret, header, query string) bool {
	got := r.Header.Get(header)
	if got == "" && query != "" {
		got = r.URL.Query().Get(query)
	}
	return secretEqual(got, secret)
}

// TriggerFromContext は認証方式を取得する。認証ミドルウェアを通過していなければ空文字。
func TriggerFromContext(ctx context.Context) string {
	kind, _ := ctx.Value(triggerContextKey).(string)
	return kind
}

func secretEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// preview は先頭n文字に "..." を付けて返す。空なら "empty"。
func preview(s string, n int) string {
	if s == "" {
		return "empty"
	}
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r) + "..."
}

// StatusTriggerRecorder は認証結果を稼働状態のmetadataに書き、拒否した場合は監査ログにも残す。
// 拒否されたリクエストで稼働状態そのものは変更しない。
type StatusTriggerRecorder struct {
	statuses repository.StatusRepository
	audits   repository.AuditRepository
	statusID string
	clock    clockwork.Clock
	logger   *slog.Logger
}

var _ TriggerRecorder = (*StatusTriggerRecorder)(nil)

// NewStatusTriggerRecorder はStatusTriggerRecorderを生成する。
func NewStatusTriggerRecorder(
	statuses repository.StatusRepository,
	audits repository.AuditRepository,
	clock clockwork.Clock,
	logger *slog.Logger,
) *StatusTriggerRecorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StatusTriggerRecorder{
		statuses: statuses,
		audits:   audits,
		statusID: model.ReceiverStatusID,
		clock:    clock,
		logger:   logger,
	}
}

// RecordTrigger は認証結果を記録する。記録の失敗はログのみ。
func (s *StatusTriggerRecorder) RecordTrigger(ctx context.Context, ev TriggerEvidence, authorized bool) {
	now := s.clock.Now().UTC()
	authResult, detail := "success", "processing"
	if !authorized {
		authResult, detail = "failed", "blocked_by_auth"
	}

	err := s.statuses.MergeMetadata(ctx, s.statusID, map[string]any{
		"last_request_at": now.Format(time.RFC3339),
		"auth_result":     authResult,
		"evidence":        ev.Map(),
		"status_detail":   detail,
	})
	if err != nil {
		s.logger.Error("認証結果の記録に失敗しました", slog.String("error", err.Error()))
	}
	if authorized {
		return
	}

	s.logger.Warn("認証されていないトリガーを拒否しました",
		slog.String("token_preview", ev.TokenPreview),
		slog.String("user_agent_preview", ev.UserAgentPreview),
	)
	err = s.audits.Create(ctx, &model.AuditLog{
		ID:         uuid.New().String(),
		Action:     model.AuditUnauthorized,
		TargetType: "system_status",
		TargetID:   s.statusID,
		Actor:      "anonymous",
		Detail:     ev.Map(),
		CreatedAt:  now,
	})
	if err != nil {
		s.logger.Error("監査ログの記録に失敗しました", slog.String("error", err.Error()))
	}
}
