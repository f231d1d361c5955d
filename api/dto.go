/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Keeps JSON shapes separate from domain entities so the wire format
  can evolve without touching the engine types.

CONVENTIONS:
  - Money is serialized as a fixed two-decimal string
  - Timestamps are RFC3339; zero timestamps are omitted
  - IDs are plain strings on the wire

SEE ALSO:
  - handlers.go: Where these are populated
*/
package api

import (
	"time"

	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/loyalty"
)

// =============================================================================
// REQUESTS
// =============================================================================

type JoinQueueRequest struct {
	BranchID    string `json:"branch_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	PackageID   string `json:"package_id,omitempty"`
	PlateNumber string `json:"plate_number"`
}

type StartWashRequest struct {
	EntryID string `json:"entry_id"`
	BayID   string `json:"bay_id,omitempty"` // empty = auto-select
	Actor   string `json:"actor,omitempty"`
}

type StartDirectWashRequest struct {
	BranchID   string `json:"branch_id"`
	CustomerID string `json:"customer_id,omitempty"`
	PackageID  string `json:"package_id,omitempty"`
	BayID      string `json:"bay_id,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

type WashActionRequest struct {
	Actor string `json:"actor,omitempty"`
}

type SetBayStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Notes  string `json:"notes,omitempty"`
}

type RedeemRequest struct {
	Points      int64  `json:"points"`
	Description string `json:"description,omitempty"`
}

type AdjustPointsRequest struct {
	CustomerID  string `json:"customer_id"`
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

type CreateBranchRequest struct {
	ID     string `json:"id,omitempty"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`
}

type CreateBayRequest struct {
	ID       string `json:"id,omitempty"`
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
}

type CreatePackageRequest struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	Price           string `json:"price"`
	DurationMinutes int    `json:"duration_minutes"`
}

type CreateCustomerRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Registered bool   `json:"registered"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type QueueEntryDTO struct {
	ID          string `json:"id"`
	BranchID    string `json:"branch_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	PackageID   string `json:"package_id,omitempty"`
	PlateNumber string `json:"plate_number"`
	Position    int    `json:"position"`
	Status      string `json:"status"`
	JoinedAt    string `json:"joined_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type QueuePositionDTO struct {
	EntryID              string `json:"entry_id"`
	Position             int    `json:"position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
}

type QueueStatusDTO struct {
	BranchID           string `json:"branch_id"`
	NowServing         int    `json:"now_serving"`
	TotalWaiting       int    `json:"total_waiting"`
	InProgress         int    `json:"in_progress"`
	AvailableBays      int    `json:"available_bays"`
	AverageWaitMinutes int    `json:"average_wait_minutes"`
}

type WashDTO struct {
	ID          string `json:"id"`
	EntryID     string `json:"entry_id,omitempty"`
	BayID       string `json:"bay_id"`
	BranchID    string `json:"branch_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	PackageID   string `json:"package_id,omitempty"`
	TotalAmount string `json:"total_amount"`
	SkipQueue   bool   `json:"skip_queue"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type BayDTO struct {
	ID       string `json:"id"`
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

type BayActivityDTO struct {
	ID             string `json:"id"`
	BayID          string `json:"bay_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Actor          string `json:"actor"`
	Notes          string `json:"notes,omitempty"`
	ChangedAt      string `json:"changed_at"`
}

type BranchDTO struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type LoyaltyAccountDTO struct {
	CustomerID     string `json:"customer_id"`
	Points         int64  `json:"points"`
	LifetimePoints int64  `json:"lifetime_points"`
	Tier           string `json:"tier"`
}

type RedeemResponseDTO struct {
	Account      LoyaltyAccountDTO `json:"account"`
	DiscountCode string            `json:"discount_code"`
}

type TierProgressDTO struct {
	CurrentTier        string  `json:"current_tier"`
	LifetimePoints     int64   `json:"lifetime_points"`
	NextTier           string  `json:"next_tier,omitempty"`
	PointsToNextTier   int64   `json:"points_to_next_tier"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

type LoyaltyTransactionDTO struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer_id"`
	Type           string `json:"type"`
	Points         int64  `json:"points"`
	Description    string `json:"description,omitempty"`
	WashID         string `json:"wash_id,omitempty"`
	AppointmentRef string `json:"appointment_ref,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ReconcileDTO struct {
	Account        LoyaltyAccountDTO `json:"account"`
	LedgerPoints   int64             `json:"ledger_points"`
	LedgerLifetime int64             `json:"ledger_lifetime"`
	PointsMatch    bool              `json:"points_match"`
	LifetimeMatch  bool              `json:"lifetime_match"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func optTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toQueueEntryDTO(e core.QueueEntry) QueueEntryDTO {
	return QueueEntryDTO{
		ID:          string(e.ID),
		BranchID:    string(e.BranchID),
		CustomerID:  string(e.CustomerID),
		PackageID:   string(e.PackageID),
		PlateNumber: e.PlateNumber,
		Position:    e.Position,
		Status:      string(e.Status),
		JoinedAt:    e.JoinedAt.Format(time.RFC3339),
		StartedAt:   optTime(e.StartedAt),
		CompletedAt: optTime(e.CompletedAt),
	}
}

func toWashDTO(w core.Wash) WashDTO {
	return WashDTO{
		ID:          string(w.ID),
		EntryID:     string(w.EntryID),
		BayID:       string(w.BayID),
		BranchID:    string(w.BranchID),
		CustomerID:  string(w.CustomerID),
		PackageID:   string(w.PackageID),
		TotalAmount: w.TotalAmount.StringFixed(2),
		SkipQueue:   w.SkipQueue,
		Status:      string(w.Status),
		StartedAt:   w.StartedAt.Format(time.RFC3339),
		CompletedAt: optTime(w.CompletedAt),
	}
}

func toBayDTO(b core.Bay) BayDTO {
	return BayDTO{
		ID:       string(b.ID),
		BranchID: string(b.BranchID),
		Name:     b.Name,
		Status:   string(b.Status),
	}
}

func toBranchDTO(b core.Branch) BranchDTO {
	return BranchDTO{ID: string(b.ID), Code: b.Code, Name: b.Name, Active: b.Active}
}

func toAccountDTO(a core.LoyaltyAccount) LoyaltyAccountDTO {
	return LoyaltyAccountDTO{
		CustomerID:     string(a.CustomerID),
		Points:         a.Points,
		LifetimePoints: a.LifetimePoints,
		Tier:           string(a.Tier),
	}
}

func toProgressDTO(p loyalty.Progress) TierProgressDTO {
	dto := TierProgressDTO{
		CurrentTier:        string(p.CurrentTier),
		LifetimePoints:     p.LifetimePoints,
		PointsToNextTier:   p.PointsToNextTier,
		ProgressPercentage: p.ProgressPercentage,
	}
	if p.NextTier != nil {
		dto.NextTier = string(*p.NextTier)
	}
	return dto
}
