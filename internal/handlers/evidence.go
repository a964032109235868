package handlers

import (
	"net/http"

	"github.com/ukydev/fieldops/internal/models"
)

// EvidenceHandler manages the before/during/after attachments of a job.
type EvidenceHandler struct {
	evidence EvidenceService
}

func NewEvidenceHandler(evidence EvidenceService) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence}
}

type attachmentRequest struct {
	Category models.EvidenceCategory `json:"category"`
	URI      string                  `json:"uri"`
	Notes    string                  `json:"notes,omitempty"`
}

type retagRequest struct {
	URI  string                  `json:"uri"`
	From models.EvidenceCategory `json:"from"`
	To   models.EvidenceCategory `json:"to"`
}

// evidenceRequest decodes body and resolves the session and job id shared by every evidence route.
func evidenceRequest(w http.ResponseWriter, r *http.Request, body interface{}) (models.Session, int64, bool) {
	session, ok := sessionOf(w, r)
	if !ok {
		return session, 0, false
	}
	id, ok := idVar(w, r)
	if !ok {
		return session, 0, false
	}
	if body != nil && !decode(w, r, body) {
		return session, 0, false
	}
	return session, id, true
}

// GetEvidence handles GET /api/jobs/{id}/evidence
func (h *EvidenceHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	session, id, ok := evidenceRequest(w, r, nil)
	if !ok {
		return
	}
	view, err := h.evidence.Get(r.Context(), session, id)
	writeResult(w, view, err)
}

// Add handles POST /api/jobs/{id}/evidence
func (h *EvidenceHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req attachmentRequest
	session, id, ok := evidenceRequest(w, r, &req)
	if !ok {
		return
	}
	view, err := h.evidence.Add(r.Context(), session, id, req.Category, req.URI, req.Notes)
	writeResult(w, view, err)
}

// Remove handles POST /api/jobs/{id}/evidence/remove
func (h *EvidenceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req attachmentRequest
	session, id, ok := evidenceRequest(w, r, &req)
	if !ok {
		return
	}
	view, err := h.evidence.Remove(r.Context(), session, id, req.Category, req.URI)
	writeResult(w, view, err)
}

// Retag handles POST /api/jobs/{id}/evidence/retag
func (h *EvidenceHandler) Retag(w http.ResponseWriter, r *http.Request) {
	var req retagRequest
	session, id, ok := evidenceRequest(w, r, &req)
	if !ok {
		return
	}
	view, err := h.evidence.Retag(r.Context(), session, id, req.URI, req.From, req.To)
	writeResult(w, view, err)
}

// Annotate handles POST /api/jobs/{id}/evidence/annotate
func (h *EvidenceHandler) Annotate(w http.ResponseWriter, r *http.Request) {
	var req attachmentRequest
	session, id, ok := evidenceRequest(w, r, &req)
	if !ok {
		return
	}
	view, err := h.evidence.Annotate(r.Context(), session, id, req.Category, req.URI, req.Notes)
	writeResult(w, view, err)
}
