package httpapi

import (
	"net/http"
	"time"

	"vitalink-realtime/internal/models"
	"vitalink-realtime/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ThresholdsHandler 阈值配置 Handler
type ThresholdsHandler struct {
	thresholds *repository.ThresholdRepository
	logger     *zap.Logger
}

// NewThresholdsHandler 创建阈值 Handler
func NewThresholdsHandler(thresholds *repository.ThresholdRepository, logger *zap.Logger) *ThresholdsHandler {
	return &ThresholdsHandler{
		thresholds: thresholds,
		logger:     logger,
	}
}

// List 列出用户的全部阈值配置
// GET /api/v1/thresholds
func (h *ThresholdsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	thresholds, err := h.thresholds.ListThresholds(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if thresholds == nil {
		thresholds = []models.Threshold{}
	}

	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{
		"items": thresholds,
		"count": len(thresholds),
	}))
}

// upsertThresholdRequest 阈值写入请求体
type upsertThresholdRequest struct {
	DataType string   `json:"data_type"`
	MinValue *float64 `json:"min_value"`
	MaxValue *float64 `json:"max_value"`
	Severity string   `json:"severity"`
	Enabled  *bool    `json:"enabled"`
}

// Upsert 写入阈值配置（同 (user_id, data_type) 覆盖更新）
// PUT /api/v1/thresholds
func (h *ThresholdsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var req upsertThresholdRequest
	if err := readBodyJSON(r, 64<<10, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.MinValue == nil && req.MaxValue == nil {
		writeJSON(w, http.StatusBadRequest, Fail("at least one of min_value, max_value is required"))
		return
	}
	if req.MinValue != nil && req.MaxValue != nil && *req.MinValue > *req.MaxValue {
		writeJSON(w, http.StatusBadRequest, Fail("min_value must not exceed max_value"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	threshold := &models.Threshold{
		ID:        uuid.New().String(),
		UserID:    userID,
		DataType:  req.DataType,
		MinValue:  req.MinValue,
		MaxValue:  req.MaxValue,
		Severity:  req.Severity,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.thresholds.UpsertThreshold(r.Context(), threshold); err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("Threshold upserted",
		zap.String("user_id", userID),
		zap.String("data_type", req.DataType),
		zap.String("severity", req.Severity),
	)

	writeJSON(w, http.StatusOK, Ok(threshold))
}
