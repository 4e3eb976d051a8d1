package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/anpi/internal/incident"
	"github.com/hitoshi/anpi/internal/middleware"
	"github.com/hitoshi/anpi/internal/model"
)

// defaultProbeCities は地点照合試験の既定の市区町村。1件目は一致、2件目は不一致を想定する。
var defaultProbeCities = []string{"仙台市", "那覇市"}

// IncidentService はインシデント操作のハンドラーが必要とするサービスインターフェース。
type IncidentService interface {
	StartDrill(ctx context.Context, req incident.StartRequest) (*model.Incident, error)
	StartDemo(ctx context.Context, req incident.StartRequest) (*model.Incident, error)
	Close(ctx context.Context, id, actor string) (*model.Incident, error)
	LoadRunContext(ctx context.Context) (*incident.RunContext, error)
	ProbeMatching(ctx context.Context, run *incident.RunContext, cities []string) []incident.ProbeResult
}

// IncidentHandler は訓練・デモのインシデント操作のHTTPハンドラー。
type IncidentHandler struct {
	service IncidentService
	logger  *slog.Logger
}

// NewIncidentHandler はIncidentHandlerを生成する。
func NewIncidentHandler(service IncidentService, logger *slog.Logger) *IncidentHandler {
	return &IncidentHandler{service: service, logger: logger}
}

// startRequest は訓練・デモ開始リクエストのボディ。
type startRequest struct {
	MenuType string `json:"menu_type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Actor    string `json:"actor"`
}

// closeRequest はインシデント終了リクエストのボディ。
type closeRequest struct {
	IncidentID string `json:"incident_id"`
}

// incidentResponse はインシデントのAPIレスポンス。
type incidentResponse struct {
	ID        string     `json:"id"`
	MenuType  string     `json:"menu_type"`
	Mode      string     `json:"mode"`
	Status    string     `json:"status"`
	Title     string     `json:"title"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func toIncidentResponse(inc *model.Incident) incidentResponse {
	return incidentResponse{
		ID:        inc.ID,
		MenuType:  string(inc.MenuType),
		Mode:      string(inc.Mode),
		Status:    string(inc.Status),
		Title:     inc.Title,
		StartedAt: inc.StartedAt,
		EndedAt:   inc.EndedAt,
	}
}

// StartDrill は訓練を開始する。
// POST /api/admin/drills
func (h *IncidentHandler) StartDrill(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	inc, err := h.service.StartDrill(r.Context(), incident.StartRequest{
		MenuType: model.MenuType(req.MenuType),
		Title:    req.Title,
		Message:  req.Message,
		Actor:    req.Actor,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{"ok": true, "incident": toIncidentResponse(inc)})
}

// StartDemo はデモ用の試験インシデントを開始する。
// POST /api/demo/incidents/start
func (h *IncidentHandler) StartDemo(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	inc, err := h.service.StartDemo(r.Context(), incident.StartRequest{
		MenuType: model.MenuType(req.MenuType),
		Title:    req.Title,
		Message:  req.Message,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "incident": toIncidentResponse(inc)})
}

// Close はインシデントを終了する。
// POST /api/demo/incidents/close
func (h *IncidentHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.IncidentID) == "" {
		handleServiceError(w, h.logger, model.NewInvalidPayloadError("incident_id は必須です"))
		return
	}

	inc, err := h.service.Close(r.Context(), req.IncidentID, "")
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "incident": toIncidentResponse(inc)})
}

// TestMatching は指定した市区町村で地点照合を試験する。city クエリは複数指定できる。
// GET /api/demo/incidents/test-matching
func (h *IncidentHandler) TestMatching(w http.ResponseWriter, r *http.Request) {
	cities := r.URL.Query()["city"]
	if len(cities) == 0 {
		cities = defaultProbeCities
	}

	run, err := h.service.LoadRunContext(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	results := h.service.ProbeMatching(r.Context(), run, cities)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "results": results})
}
