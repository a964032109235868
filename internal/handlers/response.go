package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/middleware"
	"github.com/ukydev/fieldops/internal/models"
	"github.com/ukydev/fieldops/internal/outcome"
)

// envelope is the body of every API response. Failures carry no detail.
type envelope struct {
	OK   bool        `json:"ok"`
	Data interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeOK(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{OK: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int) {
	writeJSON(w, status, envelope{OK: false})
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, outcome.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, outcome.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, outcome.ErrInvariantViolation), errors.Is(err, outcome.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes data on success, or the failure signal for err.
func writeResult(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		writeFailure(w, statusFor(err))
		return
	}
	writeOK(w, http.StatusOK, data)
}

// sessionOf returns the request's technician session, writing a failure when there is none.
func sessionOf(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized)
	}
	return session, ok
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, http.StatusBadRequest)
		return false
	}
	return true
}

func idVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeFailure(w, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func optionalInt(w http.ResponseWriter, value string) (*int64, bool) {
	if value == "" {
		return nil, true
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest)
		return nil, false
	}
	return &n, true
}

func optionalBool(w http.ResponseWriter, value string) (*bool, bool) {
	if value == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		writeFailure(w, http.StatusBadRequest)
		return nil, false
	}
	return &b, true
}
