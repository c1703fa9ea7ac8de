package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"count-backend/internal/services"
)

type ErrorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	SectorCountID int    `json:"sector_count_id,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Error writes a plain JSON error
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: message})
}

// StatusFor maps an engine error kind to its HTTP status
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUnauthorized:
		return http.StatusForbidden
	case services.KindInvalidTransition:
		return http.StatusConflict
	case services.KindProductNotInRecountScope:
		return http.StatusUnprocessableEntity
	case services.KindAlreadyActiveCycle:
		return http.StatusConflict
	case services.KindInvalidQuantity, services.KindInvalidAssignment:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ServiceError writes err with the status of its kind. Errors of no known kind are
// reported as a generic 500 so infrastructure details never reach the client.
func ServiceError(w http.ResponseWriter, err error) int {
	kind := services.KindOf(err)
	status := StatusFor(kind)
	if status == http.StatusInternalServerError {
		Error(w, status, "internal server error")
		return status
	}

	body := ErrorBody{Error: err.Error(), Code: string(kind)}
	var ce *services.CountError
	if errors.As(err, &ce) {
		body.Error = ce.Message
		body.SectorCountID = ce.SectorCountID
	}
	JSON(w, status, body)
	return status
}
