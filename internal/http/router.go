package http

import (
	"net/http"

	"count-backend/internal/handlers"
	"count-backend/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(
	cycleHandler *handlers.CycleHandler,
	sectorCountHandler *handlers.SectorCountHandler,
	reportHandler *handlers.ReportHandler,
	healthHandler *handlers.HealthHandler,
	authMiddleware *middleware.AuthMiddleware,
	logger *zap.Logger,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.PanicRecovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MetricsMiddleware)

	// Health and metrics (NO AUTHENTICATION REQUIRED)
	r.HandleFunc("/health", healthHandler.BasicHealth).Methods("GET")
	r.HandleFunc("/health/ready", healthHandler.ReadinessHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Authenticate)

	operator := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.RequireOperator(h)
	}

	// Inventory cycles
	api.Handle("/cycles", operator(cycleHandler.StartCycle)).Methods("POST")
	api.HandleFunc("/cycles/{id}", cycleHandler.GetCycle).Methods("GET")
	api.Handle("/cycles/{id}/cancel", operator(cycleHandler.CancelCycle)).Methods("POST")
	api.HandleFunc("/cycles/{id}/sectors", cycleHandler.ListSectors).Methods("GET")
	api.Handle("/cycles/{id}/sectors/{sectorId}/assignees", operator(sectorCountHandler.AssignSector)).Methods("PUT")

	// Sector counting workflow
	sc := api.PathPrefix("/sector-counts/{id}").Subrouter()
	sc.HandleFunc("", sectorCountHandler.Get).Methods("GET")
	sc.Handle("/assignees", operator(sectorCountHandler.AssignUsers)).Methods("PUT")
	sc.HandleFunc("/start", sectorCountHandler.Start).Methods("POST")
	sc.HandleFunc("/entries", sectorCountHandler.SubmitEntry).Methods("POST")
	sc.HandleFunc("/finalize", sectorCountHandler.Finalize).Methods("POST")
	sc.HandleFunc("/finalize-recount", sectorCountHandler.FinalizeRecount).Methods("POST")
	sc.Handle("/force-complete", operator(sectorCountHandler.ForceComplete)).Methods("POST")

	// Read views
	sc.HandleFunc("/my-counts", sectorCountHandler.MyCounts).Methods("GET")
	sc.HandleFunc("/comparison", sectorCountHandler.Comparison).Methods("GET")
	sc.HandleFunc("/differences", sectorCountHandler.Differences).Methods("GET")
	sc.HandleFunc("/round", sectorCountHandler.Round).Methods("GET")
	sc.HandleFunc("/progress", sectorCountHandler.Progress).Methods("GET")
	sc.HandleFunc("/report.pdf", reportHandler.SectorVariancePDF).Methods("GET")

	return r
}
