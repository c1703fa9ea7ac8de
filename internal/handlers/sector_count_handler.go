package handlers

import (
	"encoding/json"
	"net/http"

	"count-backend/internal/middleware"
	"count-backend/internal/models"
	"count-backend/internal/services"
	"count-backend/pkg/utils"
)

// SectorCountHandler exposes the counting workflow of one sector
type SectorCountHandler struct {
	service *services.SectorCountService
}

func NewSectorCountHandler(service *services.SectorCountService) *SectorCountHandler {
	return &SectorCountHandler{service: service}
}

// caller returns the sector count id from the path and the authenticated user
func caller(w http.ResponseWriter, r *http.Request) (sectorCountID, userID int, ok bool) {
	userID, ok = middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return 0, 0, false
	}
	sectorCountID, ok = pathID(r, "id")
	if !ok {
		utils.Error(w, http.StatusBadRequest, "Invalid sector count ID")
		return 0, 0, false
	}
	return sectorCountID, userID, true
}

// Get handles GET /api/sector-counts/{id}
func (h *SectorCountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _, ok := caller(w, r)
	if !ok {
		return
	}
	sc, err := h.service.Get(r.Context(), id)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, sc)
}

// AssignUsers handles PUT /api/sector-counts/{id}/assignees
func (h *SectorCountHandler) AssignUsers(w http.ResponseWriter, r *http.Request) {
	id, _, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.AssignUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserAID <= 0 || req.UserBID <= 0 {
		utils.Error(w, http.StatusBadRequest, "user_a_id and user_b_id are required")
		return
	}

	sc, err := h.service.AssignUsers(r.Context(), id, req.UserAID, req.UserBID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, sc)
}

// AssignSector handles PUT /api/cycles/{id}/sectors/{sectorId}/assignees. The sector's
// count is created first when the sector joined after the cycle started.
func (h *SectorCountHandler) AssignSector(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := pathID(r, "id")
	if !ok {
		utils.Error(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}
	sectorID, ok := pathID(r, "sectorId")
	if !ok {
		utils.Error(w, http.StatusBadRequest, "Invalid sector ID")
		return
	}

	var req models.AssignUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserAID <= 0 || req.UserBID <= 0 {
		utils.Error(w, http.StatusBadRequest, "user_a_id and user_b_id are required")
		return
	}

	sc, err := h.service.EnsureSectorCount(r.Context(), cycleID, sectorID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	sc, err = h.service.AssignUsers(r.Context(), sc.ID, req.UserAID, req.UserBID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, sc)
}

// Start handles POST /api/sector-counts/{id}/start
func (h *SectorCountHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}
	sc, err := h.service.StartCounting(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, sc)
}

// SubmitEntry handles POST /api/sector-counts/{id}/entries
func (h *SectorCountHandler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.SubmitCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProductID <= 0 {
		utils.Error(w, http.StatusBadRequest, "product_id is required")
		return
	}

	res, err := h.service.SubmitCount(r.Context(), services.SubmitCountInput{
		SectorCountID: id,
		UserID:        userID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		Formula:       req.Formula,
	})
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusCreated, res)
}

// Finalize handles POST /api/sector-counts/{id}/finalize
func (h *SectorCountHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.service.FinalizeCount(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, res)
}

// FinalizeRecount handles POST /api/sector-counts/{id}/finalize-recount
func (h *SectorCountHandler) FinalizeRecount(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := h.service.FinalizeRecount(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, res)
}

// ForceComplete handles POST /api/sector-counts/{id}/force-complete
func (h *SectorCountHandler) ForceComplete(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}

	// The body is optional
	var req models.ForceCompleteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	sc, err := h.service.ForceComplete(r.Context(), id, userID, req.Reason)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, sc)
}

// MyCounts handles GET /api/sector-counts/{id}/my-counts
func (h *SectorCountHandler) MyCounts(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}
	view, err := h.service.ConsolidatedCountsForUser(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, view)
}

// Comparison handles GET /api/sector-counts/{id}/comparison
func (h *SectorCountHandler) Comparison(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}
	view, err := h.service.ComparisonView(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, view)
}

// Differences handles GET /api/sector-counts/{id}/differences.
// Operators get live totals; counters get product ids and verdicts only.
func (h *SectorCountHandler) Differences(w http.ResponseWriter, r *http.Request) {
	id, userID, ok := caller(w, r)
	if !ok {
		return
	}
	if role, _ := middleware.GetRoleFromContext(r.Context()); role == models.RoleOperator {
		diffs, err := h.service.ProductsWithDifferences(r.Context(), id, userID)
		if err != nil {
			utils.ServiceError(w, err)
			return
		}
		utils.JSON(w, http.StatusOK, diffs)
		return
	}
	scope, err := h.service.RecountScope(r.Context(), id, userID)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, scope)
}

// Round handles GET /api/sector-counts/{id}/round
func (h *SectorCountHandler) Round(w http.ResponseWriter, r *http.Request) {
	id, _, ok := caller(w, r)
	if !ok {
		return
	}
	round, err := h.service.CurrentRoundNumber(r.Context(), id)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, map[string]int{"sector_count_id": id, "round": round})
}

// Progress handles GET /api/sector-counts/{id}/progress
func (h *SectorCountHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, _, ok := caller(w, r)
	if !ok {
		return
	}
	p, err := h.service.Progress(r.Context(), id)
	if err != nil {
		utils.ServiceError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, p)
}
