package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"count-backend/internal/middleware"
	"count-backend/internal/models"
	"count-backend/internal/services"
	"count-backend/pkg/utils"

	"github.com/gorilla/mux"
)

// CycleHandler handles inventory cycle HTTP requests
type CycleHandler struct {
	service *services.InventoryCycleService
}

func NewCycleHandler(service *services.InventoryCycleService) *CycleHandler {
	return &CycleHandler{service: service}
}

// pathID reads a positive integer path variable
func pathID(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// StartCycle handles POST /api/cycles
func (h *CycleHandler) StartCycle(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req models.StartCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CompanyID <= 0 {
		utils.Error(w, http.StatusBadRequest, "company_id is required")
		return
	}

	cycle, err := h.service.StartCycle(r.Context(), req.CompanyID, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusCreated, cycle)
}

// GetCycle handles GET /api/cycles/{id}
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		utils.Error(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	cycle, err := h.service.GetCycle(r.Context(), id)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, cycle)
}

// CancelCycle handles POST /api/cycles/{id}/cancel
func (h *CycleHandler) CancelCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		utils.Error(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	cycle, err := h.service.CancelCycle(r.Context(), id)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, cycle)
}

// ListSectors handles GET /api/cycles/{id}/sectors
func (h *CycleHandler) ListSectors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		utils.Error(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	sectors, err := h.service.ListSectorCounts(r.Context(), id)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	if sectors == nil {
		sectors = []*models.SectorCount{}
	}
	utils.JSON(w, http.StatusOK, sectors)
}
