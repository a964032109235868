package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ukydev/fieldops/internal/middleware"
)

// TokenService issues and validates session tokens. *auth.Service implements it.
type TokenService interface {
	TokenIssuer
	middleware.TokenValidator
}

// Dependencies are the services the HTTP API is built on.
type Dependencies struct {
	Jobs        JobService
	Custody     CustodyService
	Inventory   InventoryService
	Evidence    EvidenceService
	Tokens      TokenService
	Technicians TechnicianLookup

	// LoginRateLimit caps login attempts per client per minute. Zero disables the limit.
	LoginRateLimit int
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
}

// NewRouter configures all API routes
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger, middleware.NewAuthMiddleware(deps.Tokens).Authenticate)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, http.StatusOK, nil)
	}).Methods("GET")
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	var login http.Handler = http.HandlerFunc(NewAuthHandler(deps.Tokens, deps.Technicians).Login)
	if deps.LoginRateLimit > 0 {
		login = middleware.NewRateLimitMiddleware().RateLimit(deps.LoginRateLimit, 60)(login)
	}
	api.Handle("/auth/login", login).Methods("POST")

	// Job endpoints
	jobs := NewJobHandler(deps.Jobs)
	api.HandleFunc("/jobs", jobs.ListJobs).Methods("GET")
	api.HandleFunc("/jobs", jobs.CreateJob).Methods("POST")
	api.HandleFunc("/jobs/active", jobs.ActiveJob).Methods("GET")
	api.HandleFunc("/jobs/{id:[0-9]+}", jobs.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id:[0-9]+}/start", jobs.Start).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/en-route", jobs.EnRoute).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/pause", jobs.Pause).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/resume", jobs.Resume).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/cancel", jobs.Cancel).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/complete", jobs.Complete).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/sign", jobs.Sign).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/synced", jobs.MarkSynced).Methods("POST")

	// Evidence endpoints
	evidence := NewEvidenceHandler(deps.Evidence)
	api.HandleFunc("/jobs/{id:[0-9]+}/evidence", evidence.GetEvidence).Methods("GET")
	api.HandleFunc("/jobs/{id:[0-9]+}/evidence", evidence.Add).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/evidence/remove", evidence.Remove).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/evidence/retag", evidence.Retag).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/evidence/annotate", evidence.Annotate).Methods("POST")

	// Asset endpoints
	assets := NewAssetHandler(deps.Custody)
	api.HandleFunc("/assets", assets.ListAssets).Methods("GET")
	api.HandleFunc("/assets/{code}", assets.GetAsset).Methods("GET")
	api.HandleFunc("/assets/{code}/checkout", assets.Checkout).Methods("POST")
	api.HandleFunc("/checkouts", assets.ListCheckouts).Methods("GET")
	api.HandleFunc("/checkouts/{id:[0-9]+}", assets.GetCheckout).Methods("GET")
	api.HandleFunc("/checkouts/{id:[0-9]+}/return", assets.Return).Methods("POST")

	// Consumable endpoints
	consumables := NewConsumableHandler(deps.Inventory)
	api.HandleFunc("/consumables", consumables.ListConsumables).Methods("GET")
	api.HandleFunc("/consumables/{code}", consumables.GetConsumable).Methods("GET")
	api.HandleFunc("/consumables/{code}/draw", consumables.Draw).Methods("POST")
	api.HandleFunc("/consumables/{code}/restore", consumables.Restore).Methods("POST")
	api.HandleFunc("/jobs/{id:[0-9]+}/usages", consumables.JobUsages).Methods("GET")

	return r
}
