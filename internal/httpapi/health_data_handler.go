package httpapi

import (
	"net/http"
	"time"

	"vitalink-realtime/internal/ingest"
	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// HealthDataHandler 健康数据摄入与查询 Handler
type HealthDataHandler struct {
	ingestor *ingest.Ingestor
	logger   *zap.Logger
}

// NewHealthDataHandler 创建健康数据 Handler
func NewHealthDataHandler(ingestor *ingest.Ingestor, logger *zap.Logger) *HealthDataHandler {
	return &HealthDataHandler{
		ingestor: ingestor,
		logger:   logger,
	}
}

// Store 摄入单条健康数据
// POST /api/v1/health-data
func (h *HealthDataHandler) Store(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var input ingest.StoreInput
	if err := readBodyJSON(r, 1<<20, &input); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	id, err := h.ingestor.Store(r.Context(), userID, input)
	if err != nil {
		h.logger.Warn("Failed to store health data",
			zap.String("user_id", userID),
			zap.String("data_type", input.DataType),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, Ok(map[string]string{"id": id}))
}

// batchRequest 批量摄入请求体
type batchRequest struct {
	Readings []ingest.StoreInput `json:"readings"`
}

// StoreBatch 批量摄入健康数据（部分成功语义）
// POST /api/v1/health-data/batch
func (h *HealthDataHandler) StoreBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if err := readBodyJSON(r, 4<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if len(req.Readings) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("readings is required"))
		return
	}

	results := h.ingestor.StoreBatch(r.Context(), userID, req.Readings)

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}

	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{
		"total":     len(results),
		"succeeded": succeeded,
		"results":   results,
	}))
}

// Query 查询健康数据历史
// GET /api/v1/health-data?data_type=&start_date=&end_date=&limit=
func (h *HealthDataHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	filters := models.HealthDataFilters{
		Limit: parseInt(r.URL.Query().Get("limit"), 0),
	}

	if dataType := r.URL.Query().Get("data_type"); dataType != "" {
		filters.DataType = &dataType
	}
	if start := r.URL.Query().Get("start_date"); start != "" {
		ts, err := time.Parse(time.RFC3339, start)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid start_date, expected RFC3339"))
			return
		}
		filters.StartDate = &ts
	}
	if end := r.URL.Query().Get("end_date"); end != "" {
		ts, err := time.Parse(time.RFC3339, end)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid end_date, expected RFC3339"))
			return
		}
		filters.EndDate = &ts
	}

	points, err := h.ingestor.Query(r.Context(), userID, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	if points == nil {
		points = []models.HealthDataPoint{}
	}

	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{
		"items": points,
		"count": len(points),
	}))
}
