package httpapi

import (
	"net/http"
	"strings"

	"vitalink-realtime/internal/alert"
	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// AlertsHandler 报警查询与操作 Handler
type AlertsHandler struct {
	manager *alert.Manager
	logger  *zap.Logger
}

// NewAlertsHandler 创建报警 Handler
func NewAlertsHandler(manager *alert.Manager, logger *zap.Logger) *AlertsHandler {
	return &AlertsHandler{
		manager: manager,
		logger:  logger,
	}
}

// ListActive 列出活跃报警
// GET /api/v1/alerts/active?severity=&limit=&offset=
func (h *AlertsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	filters := models.AlertFilters{
		Limit:  parseInt(r.URL.Query().Get("limit"), 0),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		if !models.ValidSeverities[severity] {
			writeJSON(w, http.StatusBadRequest, Fail("unknown severity"))
			return
		}
		filters.Severity = &severity
	}

	result, err := h.manager.ListActive(r.Context(), userID, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Alerts == nil {
		result.Alerts = []models.Alert{}
	}

	writeJSON(w, http.StatusOK, Ok(result))
}

// resolveRequest 解除报警请求体
type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// Resolve 解除报警
// POST /api/v1/alerts/{id}/resolve
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request, alertID string) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := readBodyJSON(r, 64<<10, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.Resolution == "" {
		req.Resolution = "resolved by user"
	}

	resolved, err := h.manager.ResolveAlert(r.Context(), alertID, userID, req.Resolution)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(resolved))
}

// MarkRead 标记报警已读
// POST /api/v1/alerts/{id}/read
func (h *AlertsHandler) MarkRead(w http.ResponseWriter, r *http.Request, alertID string) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	if err := h.manager.MarkRead(r.Context(), alertID, userID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": alertID}))
}

// ServeAlertAction 解析 /api/v1/alerts/{id}/{action} 风格的路径
func (h *AlertsHandler) ServeAlertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	alertID, action := parts[0], parts[1]
	switch action {
	case "resolve":
		h.Resolve(w, r, alertID)
	case "read":
		h.MarkRead(w, r, alertID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
