package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SectorStatus string

const (
	SectorPending              SectorStatus = "PENDING"
	SectorInProgress           SectorStatus = "IN_PROGRESS"
	SectorAwaitingVerification SectorStatus = "AWAITING_VERIFICATION"
	SectorCompleted            SectorStatus = "COMPLETED"
	SectorWithDifferences      SectorStatus = "WITH_DIFFERENCES"
	SectorCancelled            SectorStatus = "CANCELLED"
)

// IsTerminal reports whether no further counting can happen on the sector
func (s SectorStatus) IsTerminal() bool {
	return s == SectorCompleted || s == SectorCancelled
}

// CountMode selects how raw entries are reduced to one total per user per product
type CountMode string

const (
	ModeInitial CountMode = "INITIAL" // every submission adds to the user's total
	ModeRecount CountMode = "RECOUNT" // the latest submission replaces the user's total
)

// RoundMarker records which pass the sector is in and who finished it first.
// Round 0 is the initial count; rounds 1..n are recounts.
type RoundMarker struct {
	Round            int        `json:"round"`
	FinishedByUserID *int       `json:"finished_by_user_id,omitempty"`
	RoundStartedAt   *time.Time `json:"round_started_at,omitempty"`
}

type SectorCount struct {
	ID                      int             `json:"id"`
	CycleID                 int             `json:"cycle_id"`
	SectorID                int             `json:"sector_id"`
	SectorName              string          `json:"sector_name,omitempty"` // Denormalized for display
	UserAID                 *int            `json:"user_a_id,omitempty"`
	UserBID                 *int            `json:"user_b_id,omitempty"`
	Status                  SectorStatus    `json:"status"`
	Marker                  RoundMarker     `json:"marker"`
	LegacyMarker            *string         `json:"-"` // free text carried over from imported rows
	TotalProducts           int             `json:"total_products"`
	ProductsCounted         int             `json:"products_counted"`
	ProductsWithDifferences int             `json:"products_with_differences"`
	PercentComplete         decimal.Decimal `json:"percent_complete"`
	StartedAt               *time.Time      `json:"started_at,omitempty"`
	FinishedAt              *time.Time      `json:"finished_at,omitempty"`
	ForcedByUserID          *int            `json:"forced_by_user_id,omitempty"`
	ForceReason             *string         `json:"force_reason,omitempty"`
	Version                 int             `json:"version"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// CountMode derives the aggregation semantics from the current round
func (sc *SectorCount) CountMode() CountMode {
	if sc.Marker.Round > 0 {
		return ModeRecount
	}
	return ModeInitial
}

// Slot returns which assignee slot userID occupies
func (sc *SectorCount) Slot(userID int) (UserSlot, bool) {
	if sc.UserAID != nil && *sc.UserAID == userID {
		return SlotA, true
	}
	if sc.UserBID != nil && *sc.UserBID == userID {
		return SlotB, true
	}
	return "", false
}

// IsAssigned reports whether userID is one of the two counters
func (sc *SectorCount) IsAssigned(userID int) bool {
	_, ok := sc.Slot(userID)
	return ok
}

// FinishedBy reports whether userID is the recorded first finisher of the current pass
func (sc *SectorCount) FinishedBy(userID int) bool {
	return sc.Marker.FinishedByUserID != nil && *sc.Marker.FinishedByUserID == userID
}

// AssignUsersRequest represents the request body for assigning the two counters
type AssignUsersRequest struct {
	UserAID int `json:"user_a_id"`
	UserBID int `json:"user_b_id"`
}

// ForceCompleteRequest represents the request body for an operator override
type ForceCompleteRequest struct {
	Reason string `json:"reason"`
}
