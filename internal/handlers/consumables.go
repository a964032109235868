package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ukydev/fieldops/internal/db"
)

// ConsumableHandler serves the consumable ledger.
type ConsumableHandler struct {
	inventory InventoryService
}

func NewConsumableHandler(inventory InventoryService) *ConsumableHandler {
	return &ConsumableHandler{inventory: inventory}
}

type drawRequest struct {
	JobID    int64   `json:"job_id"`
	Quantity float64 `json:"quantity"`
}

type restoreRequest struct {
	JobID    *int64  `json:"job_id,omitempty"`
	Quantity float64 `json:"quantity"`
}

// ListConsumables handles GET /api/consumables?category=plumbing&low=true
func (h *ConsumableHandler) ListConsumables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	low, ok := optionalBool(w, q.Get("low"))
	if !ok {
		return
	}
	if low != nil && *low {
		items, err := h.inventory.LowStock(r.Context())
		writeResult(w, items, err)
		return
	}
	items, err := h.inventory.Consumables(r.Context(), db.ConsumableFilter{Category: q.Get("category")})
	writeResult(w, items, err)
}

// GetConsumable handles GET /api/consumables/{code}
func (h *ConsumableHandler) GetConsumable(w http.ResponseWriter, r *http.Request) {
	item, err := h.inventory.Consumable(r.Context(), mux.Vars(r)["code"])
	writeResult(w, item, err)
}

// Draw handles POST /api/consumables/{code}/draw
func (h *ConsumableHandler) Draw(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	var req drawRequest
	if !decode(w, r, &req) {
		return
	}
	if req.JobID <= 0 {
		writeFailure(w, http.StatusBadRequest)
		return
	}
	result, err := h.inventory.Draw(r.Context(), session, req.JobID, mux.Vars(r)["code"], req.Quantity)
	writeResult(w, result, err)
}

// Restore handles POST /api/consumables/{code}/restore
func (h *ConsumableHandler) Restore(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	var req restoreRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.inventory.Restore(r.Context(), session, mux.Vars(r)["code"], req.Quantity, req.JobID)
	writeResult(w, item, err)
}

// JobUsages handles GET /api/jobs/{id}/usages
func (h *ConsumableHandler) JobUsages(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}
	usages, err := h.inventory.Usages(r.Context(), db.UsageFilter{JobID: &id})
	writeResult(w, usages, err)
}
