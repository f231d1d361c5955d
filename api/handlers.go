/*
handlers.go - HTTP API handlers for the wash engine

PURPOSE:
  Exposes queue, bay, wash, and loyalty operations over REST. Handles
  HTTP request/response, JSON serialization, and delegates everything
  else to the domain packages.

ENDPOINTS:
  Queue:
    POST   /api/queue/entries                Join a branch queue
    POST   /api/queue/entries/{id}/cancel    Cancel a waiting entry
    GET    /api/queue/entries/{id}           Entry details
    GET    /api/queue/entries/{id}/position  Effective rank + wait estimate
    GET    /api/branches/{id}/queue          Live queue status snapshot

  Washes:
    POST   /api/washes                Start from a waiting entry
    POST   /api/washes/direct         Start skipping the queue
    POST   /api/washes/{id}/complete  Complete (idempotent)
    POST   /api/washes/{id}/cancel    Cancel (idempotent)
    GET    /api/washes/{id}           Wash details

  Bays:
    GET    /api/branches/{id}/bays    List branch bays
    PUT    /api/bays/{id}/status      Manual status transition
    GET    /api/bays/{id}/activity    Append-only activity log

  Loyalty:
    GET    /api/customers/{id}/loyalty           Account summary
    GET    /api/customers/{id}/loyalty/progress  Tier progress
    GET    /api/customers/{id}/loyalty/history   Ledger, newest first
    GET    /api/customers/{id}/loyalty/reconcile Ledger-vs-account check
    POST   /api/customers/{id}/loyalty/redeem    Redeem points

  Admin:
    POST   /api/admin/loyalty/adjust  Manual points adjustment
    POST   /api/branches | /api/bays | /api/packages | /api/customers

ERROR HANDLING:
  Errors map to JSON with the appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: State conflicts, bay unavailable, insufficient points
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/washywashy/wash-engine/bay"
	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/loyalty"
	"github.com/washywashy/wash-engine/queue"
	"github.com/washywashy/wash-engine/wash"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   core.Store
	Queue   *queue.Manager
	Bays    *bay.Allocator
	Loyalty *loyalty.Ledger
	Washes  *wash.Lifecycle
	IDs     core.IDGenerator
}

func NewHandler(store core.Store, q *queue.Manager, b *bay.Allocator, l *loyalty.Ledger, w *wash.Lifecycle, ids core.IDGenerator) *Handler {
	return &Handler{Store: store, Queue: q, Bays: b, Loyalty: l, Washes: w, IDs: ids}
}

// =============================================================================
// QUEUE HANDLERS
// =============================================================================

func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	var req JoinQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Queue.Join(r.Context(), core.BranchID(req.BranchID),
		core.CustomerID(req.CustomerID), core.PackageID(req.PackageID), req.PlateNumber)
	if err != nil {
		writeDomainError(w, "Failed to join queue", err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueEntryDTO(entry))
}

func (h *Handler) CancelQueueEntry(w http.ResponseWriter, r *http.Request) {
	id := core.EntryID(chi.URLParam(r, "id"))

	entry, err := h.Queue.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to cancel queue entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryDTO(entry))
}

func (h *Handler) GetQueueEntry(w http.ResponseWriter, r *http.Request) {
	id := core.EntryID(chi.URLParam(r, "id"))

	entry, err := h.Store.GetQueueEntry(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get queue entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryDTO(entry))
}

func (h *Handler) QueuePosition(w http.ResponseWriter, r *http.Request) {
	id := core.EntryID(chi.URLParam(r, "id"))

	rank, err := h.Queue.Rank(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute position", err)
		return
	}
	writeJSON(w, http.StatusOK, QueuePositionDTO{
		EntryID:              string(id),
		Position:             rank,
		EstimatedWaitMinutes: queue.EstimatedWaitMinutes(rank),
	})
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	branchID := core.BranchID(chi.URLParam(r, "id"))

	status, err := h.Queue.Status(r.Context(), branchID)
	if err != nil {
		writeDomainError(w, "Failed to get queue status", err)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatusDTO{
		BranchID:           string(status.BranchID),
		NowServing:         status.NowServing,
		TotalWaiting:       status.TotalWaiting,
		InProgress:         status.InProgress,
		AvailableBays:      status.AvailableBays,
		AverageWaitMinutes: status.AverageWaitMinutes,
	})
}

// =============================================================================
// WASH HANDLERS
// =============================================================================

func (h *Handler) StartWash(w http.ResponseWriter, r *http.Request) {
	var req StartWashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	washRec, err := h.Washes.Start(r.Context(), core.EntryID(req.EntryID),
		core.BayID(req.BayID), req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to start wash", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWashDTO(washRec))
}

func (h *Handler) StartDirectWash(w http.ResponseWriter, r *http.Request) {
	var req StartDirectWashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	washRec, err := h.Washes.StartDirect(r.Context(), core.BranchID(req.BranchID),
		core.CustomerID(req.CustomerID), core.PackageID(req.PackageID),
		core.BayID(req.BayID), req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to start wash", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWashDTO(washRec))
}

func (h *Handler) CompleteWash(w http.ResponseWriter, r *http.Request) {
	var req WashActionRequest
	decodeOptional(r, &req)
	id := core.WashID(chi.URLParam(r, "id"))

	washRec, err := h.Washes.Complete(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to complete wash", err)
		return
	}
	writeJSON(w, http.StatusOK, toWashDTO(washRec))
}

func (h *Handler) CancelWash(w http.ResponseWriter, r *http.Request) {
	var req WashActionRequest
	decodeOptional(r, &req)
	id := core.WashID(chi.URLParam(r, "id"))

	washRec, err := h.Washes.Cancel(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to cancel wash", err)
		return
	}
	writeJSON(w, http.StatusOK, toWashDTO(washRec))
}

func (h *Handler) GetWash(w http.ResponseWriter, r *http.Request) {
	id := core.WashID(chi.URLParam(r, "id"))

	washRec, err := h.Washes.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get wash", err)
		return
	}
	writeJSON(w, http.StatusOK, toWashDTO(washRec))
}

// =============================================================================
// BAY HANDLERS
// =============================================================================

func (h *Handler) ListBays(w http.ResponseWriter, r *http.Request) {
	branchID := core.BranchID(chi.URLParam(r, "id"))

	bays, err := h.Store.ListBays(r.Context(), branchID)
	if err != nil {
		writeDomainError(w, "Failed to list bays", err)
		return
	}
	dtos := make([]BayDTO, len(bays))
	for i, b := range bays {
		dtos[i] = toBayDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SetBayStatus(w http.ResponseWriter, r *http.Request) {
	var req SetBayStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := core.BayID(chi.URLParam(r, "id"))

	b, err := h.Bays.SetStatus(r.Context(), id, core.BayStatus(req.Status), req.Actor, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to set bay status", err)
		return
	}
	writeJSON(w, http.StatusOK, toBayDTO(b))
}

func (h *Handler) BayActivity(w http.ResponseWriter, r *http.Request) {
	id := core.BayID(chi.URLParam(r, "id"))

	entries, err := h.Bays.ActivityLog(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get bay activity", err)
		return
	}
	dtos := make([]BayActivityDTO, len(entries))
	for i, e := range entries {
		dtos[i] = BayActivityDTO{
			ID:             e.ID,
			BayID:          string(e.BayID),
			PreviousStatus: string(e.PreviousStatus),
			NewStatus:      string(e.NewStatus),
			Actor:          e.Actor,
			Notes:          e.Notes,
			ChangedAt:      optTime(e.ChangedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOYALTY HANDLERS
// =============================================================================

func (h *Handler) LoyaltyAccount(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))

	account, err := h.Loyalty.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get loyalty account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

func (h *Handler) TierProgress(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))

	progress, err := h.Loyalty.TierProgress(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get tier progress", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(progress))
}

func (h *Handler) LoyaltyHistory(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))

	txs, err := h.Loyalty.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get loyalty history", err)
		return
	}
	dtos := make([]LoyaltyTransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = LoyaltyTransactionDTO{
			ID:             tx.ID,
			CustomerID:     string(tx.CustomerID),
			Type:           string(tx.Type),
			Points:         tx.Points,
			Description:    tx.Description,
			WashID:         string(tx.WashID),
			AppointmentRef: tx.AppointmentRef,
			CreatedAt:      optTime(tx.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := core.CustomerID(chi.URLParam(r, "id"))

	account, code, err := h.Loyalty.Redeem(r.Context(), id, req.Points, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to redeem points", err)
		return
	}
	writeJSON(w, http.StatusOK, RedeemResponseDTO{
		Account:      toAccountDTO(account),
		DiscountCode: code,
	})
}

func (h *Handler) ReconcileLoyalty(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))

	report, err := h.Loyalty.Reconcile(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reconcile loyalty account", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{
		Account:        toAccountDTO(report.Account),
		LedgerPoints:   report.LedgerPoints,
		LedgerLifetime: report.LedgerLifetime,
		PointsMatch:    report.PointsMatch,
		LifetimeMatch:  report.LifetimeMatch,
	})
}

func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req AdjustPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Loyalty.Adjust(r.Context(), core.CustomerID(req.CustomerID),
		req.Delta, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to adjust points", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// =============================================================================
// ADMIN CREATE HANDLERS
// =============================================================================

func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.Store.ListBranches(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list branches", err)
		return
	}
	dtos := make([]BranchDTO, len(branches))
	for i, b := range branches {
		dtos[i] = toBranchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBranch(w http.ResponseWriter, r *http.Request) {
	id := core.BranchID(chi.URLParam(r, "id"))

	b, err := h.Store.GetBranch(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get branch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBranchDTO(b))
}

func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "code and name are required", nil)
		return
	}

	b := core.Branch{
		ID:     core.BranchID(orNewID(req.ID, h.IDs)),
		Code:   req.Code,
		Name:   req.Name,
		Active: true,
	}
	if req.Active != nil {
		b.Active = *req.Active
	}
	if err := h.Store.PutBranch(r.Context(), b); err != nil {
		writeDomainError(w, "Failed to create branch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBranchDTO(b))
}

func (h *Handler) CreateBay(w http.ResponseWriter, r *http.Request) {
	var req CreateBayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BranchID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "branch_id and name are required", nil)
		return
	}
	if _, err := h.Store.GetBranch(r.Context(), core.BranchID(req.BranchID)); err != nil {
		writeDomainError(w, "Failed to create bay", err)
		return
	}

	b := core.Bay{
		ID:       core.BayID(orNewID(req.ID, h.IDs)),
		BranchID: core.BranchID(req.BranchID),
		Name:     req.Name,
		Status:   core.BayIdle,
	}
	if err := h.Store.PutBay(r.Context(), b); err != nil {
		writeDomainError(w, "Failed to create bay", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBayDTO(b))
}

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req CreatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "price must be a non-negative decimal string", err)
		return
	}

	p := core.Package{
		ID:              core.PackageID(orNewID(req.ID, h.IDs)),
		Name:            req.Name,
		Price:           price,
		DurationMinutes: req.DurationMinutes,
		Active:          true,
	}
	if err := h.Store.PutPackage(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to create package", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(p.ID)})
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	c := core.Customer{
		ID:         core.CustomerID(orNewID(req.ID, h.IDs)),
		Name:       req.Name,
		Phone:      req.Phone,
		Registered: req.Registered,
	}
	if err := h.Store.PutCustomer(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(c.ID)})
}

// =============================================================================
// HELPERS
// =============================================================================

func orNewID(id string, ids core.IDGenerator) string {
	if id != "" {
		return id
	}
	return ids.NewID()
}

// decodeOptional tolerates an empty body for actions whose request
// payload is entirely optional.
func decodeOptional(r *http.Request, v any) {
	_ = json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy onto HTTP status
// codes.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case core.IsValidation(err):
		writeError(w, http.StatusBadRequest, msg, err)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case core.IsConflict(err) || core.IsRetryable(err):
		writeError(w, http.StatusConflict, msg, err)
	default:
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}
