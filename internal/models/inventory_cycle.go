package models

import "time"

type CycleStatus string

const (
	CyclePending    CycleStatus = "PENDING"
	CycleInProgress CycleStatus = "IN_PROGRESS"
	CycleCompleted  CycleStatus = "COMPLETED"
	CycleCancelled  CycleStatus = "CANCELLED"
)

// IsActive reports whether the cycle still blocks a new cycle for the same company
func (s CycleStatus) IsActive() bool {
	return s == CyclePending || s == CycleInProgress
}

type InventoryCycle struct {
	ID                     int         `json:"id"`
	CompanyID              int         `json:"company_id"`
	Status                 CycleStatus `json:"status"`
	StartedByUserID        *int        `json:"started_by_user_id,omitempty"`
	StartedAt              *time.Time  `json:"started_at,omitempty"`
	FinishedAt             *time.Time  `json:"finished_at,omitempty"`
	TotalSectors           int         `json:"total_sectors"`
	CompletedSectors       int         `json:"completed_sectors"`        // recomputed, never set directly
	SectorsWithDifferences int         `json:"sectors_with_differences"` // recomputed
	SectorsInProgress      int         `json:"sectors_in_progress"`      // recomputed
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// StartCycleRequest represents the request body for starting a cycle
type StartCycleRequest struct {
	CompanyID int `json:"company_id"`
}
