package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ukydev/fieldops/internal/custody"
	"github.com/ukydev/fieldops/internal/db"
	"github.com/ukydev/fieldops/internal/models"
)

// AssetHandler serves fixed assets and their custody records.
type AssetHandler struct {
	custody CustodyService
}

func NewAssetHandler(custody CustodyService) *AssetHandler {
	return &AssetHandler{custody: custody}
}

type returnRequest struct {
	Condition models.Condition `json:"condition"`
	Notes     string           `json:"notes,omitempty"`
}

// ListAssets handles GET /api/assets?available=true&category=tool&holder=tech-1
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	available, ok := optionalBool(w, q.Get("available"))
	if !ok {
		return
	}
	assets, err := h.custody.Assets(r.Context(), db.AssetFilter{
		Category:  models.AssetCategory(q.Get("category")),
		Available: available,
		Holder:    q.Get("holder"),
	})
	writeResult(w, assets, err)
}

// GetAsset handles GET /api/assets/{code}
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.custody.Asset(r.Context(), mux.Vars(r)["code"])
	writeResult(w, asset, err)
}

// Checkout handles POST /api/assets/{code}/checkout
func (h *AssetHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	var req custody.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	req.AssetCode = mux.Vars(r)["code"]

	co, err := h.custody.Checkout(r.Context(), session, req)
	if err != nil {
		writeFailure(w, statusFor(err))
		return
	}
	writeOK(w, http.StatusCreated, co)
}

// ListCheckouts handles GET /api/checkouts?asset=A-100&holder=tech-1&job_id=1&open=true
func (h *AssetHandler) ListCheckouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobID, ok := optionalInt(w, q.Get("job_id"))
	if !ok {
		return
	}
	open, ok := optionalBool(w, q.Get("open"))
	if !ok {
		return
	}
	checkouts, err := h.custody.Checkouts(r.Context(), db.CheckoutFilter{
		AssetCode: q.Get("asset"),
		Holder:    q.Get("holder"),
		JobID:     jobID,
		OpenOnly:  open != nil && *open,
	})
	writeResult(w, checkouts, err)
}

// GetCheckout handles GET /api/checkouts/{id}
func (h *AssetHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := idVar(w, r)
	if !ok {
		return
	}
	co, err := h.custody.CheckoutByID(r.Context(), id)
	writeResult(w, co, err)
}

// Return handles POST /api/checkouts/{id}/return
func (h *AssetHandler) Return(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOf(w, r)
	if !ok {
		return
	}
	id, ok := idVar(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !decode(w, r, &req) {
		return
	}
	co, err := h.custody.Return(r.Context(), session, id, req.Condition, req.Notes)
	writeResult(w, co, err)
}
