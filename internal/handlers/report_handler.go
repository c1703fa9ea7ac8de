package handlers

import (
	"fmt"
	"net/http"

	"count-backend/internal/services"
	"count-backend/pkg/utils"

	"go.uber.org/zap"
)

// ReportHandler serves generated reports
type ReportHandler struct {
	service *services.ReportService
	logger  *zap.Logger
}

func NewReportHandler(service *services.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{service: service, logger: logger}
}

// SectorVariancePDF handles GET /api/sector-counts/{id}/report.pdf
func (h *ReportHandler) SectorVariancePDF(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}

	pdfData, err := h.service.SectorVariancePDF(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("sector_count_%d_variance.pdf", id)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(pdfData); err != nil {
		h.logger.Warn("failed to write variance report",
			zap.Int("sector_count_id", id),
			zap.Int("bytes", len(pdfData)),
			zap.Error(err))
	}
}
