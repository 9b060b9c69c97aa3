// Package api exposes the reconciliation engine over HTTP: CSV import,
// the pending-payment queue, match suggestions and confirmation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/memberops/reconcile/internal/domain"
	"github.com/memberops/reconcile/internal/importer"
	"github.com/memberops/reconcile/internal/matching"
	"github.com/memberops/reconcile/internal/parser"
	"github.com/memberops/reconcile/internal/recon"
	"github.com/memberops/reconcile/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_confirmations_total",
		Help: "Confirmation attempts by outcome",
	}, []string{"outcome"})

	importedPaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_imported_payments_total",
		Help: "Imported payment rows by dialect and disposition",
	}, []string{"dialect", "disposition"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_rollbacks_total",
		Help: "Reconciliation logs deleted after propagation failure",
	})
)

type Handler struct {
	store        *store.Store
	importer     *importer.Importer
	matcher      *matching.Service
	orchestrator *recon.Orchestrator
	log          zerolog.Logger
}

func NewHandler(s *store.Store, imp *importer.Importer, m *matching.Service, o *recon.Orchestrator, log zerolog.Logger) *Handler {
	return &Handler{store: s, importer: imp, matcher: m, orchestrator: o, log: log}
}

// Routes mounts every endpoint on the given router under /api/v1.
func (h *Handler) Routes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/imports", h.ImportCSV).Methods("POST")
	v1.HandleFunc("/payments", h.ListPayments).Methods("GET")
	v1.HandleFunc("/payments/{id}/ignore", h.IgnorePayment).Methods("POST")
	v1.HandleFunc("/payments/{id}/unignore", h.UnignorePayment).Methods("POST")
	v1.HandleFunc("/payments/{id}/matches", h.SuggestMatches).Methods("GET")
	v1.HandleFunc("/reconciliations", h.ConfirmReconciliation).Methods("POST")
	v1.HandleFunc("/reconciliations/{fingerprint}", h.GetReconciliation).Methods("GET")
}

// ImportCSV accepts a raw CSV body; ?dialect=bank|stripe selects the
// column mapping. Row failures come back in the summary with a 200 —
// only a wholly unusable file is an error.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/imports"))
	defer timer.ObserveDuration()

	dialect := parser.Dialect(r.URL.Query().Get("dialect"))
	if dialect != parser.DialectBank && dialect != parser.DialectStripe {
		httpRequestsTotal.WithLabelValues("POST", "/imports", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "dialect must be \"bank\" or \"stripe\"")
		return
	}
	uploadedBy := r.Header.Get("X-User-ID")

	sum, err := h.importer.Import(r.Context(), dialect, r.Body, uploadedBy)
	if err != nil {
		if sum != nil && !sum.ParseOK {
			httpRequestsTotal.WithLabelValues("POST", "/imports", "422").Inc()
			respondWithJSON(w, http.StatusUnprocessableEntity, sum)
			return
		}
		h.log.Error().Err(err).Msg("import failed")
		httpRequestsTotal.WithLabelValues("POST", "/imports", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "import failed")
		return
	}

	importedPaymentsTotal.WithLabelValues(string(dialect), "imported").Add(float64(sum.Imported))
	importedPaymentsTotal.WithLabelValues(string(dialect), "already_exists").Add(float64(sum.AlreadyExists))
	importedPaymentsTotal.WithLabelValues(string(dialect), "skipped").Add(float64(sum.Skipped))

	httpRequestsTotal.WithLabelValues("POST", "/imports", "200").Inc()
	respondWithJSON(w, http.StatusOK, sum)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	status := domain.PendingStatus(r.URL.Query().Get("status"))

	payments, err := h.store.ListPendingPayments(r.Context(), status)
	if err != nil {
		h.log.Error().Err(err).Msg("listing payments failed")
		httpRequestsTotal.WithLabelValues("GET", "/payments", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "could not list payments")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/payments", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"payments": payments, "count": len(payments)})
}

func (h *Handler) IgnorePayment(w http.ResponseWriter, r *http.Request) {
	h.setPaymentStatus(w, r, "/payments/{id}/ignore", domain.StatusIgnored)
}

func (h *Handler) UnignorePayment(w http.ResponseWriter, r *http.Request) {
	h.setPaymentStatus(w, r, "/payments/{id}/unignore", domain.StatusPending)
}

func (h *Handler) setPaymentStatus(w http.ResponseWriter, r *http.Request, endpoint string, status domain.PendingStatus) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", endpoint, "400").Inc()
		respondWithError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	if err := h.store.UpdatePendingStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			httpRequestsTotal.WithLabelValues("POST", endpoint, "404").Inc()
			respondWithError(w, http.StatusNotFound, "payment not found")
			return
		}
		h.log.Error().Err(err).Stringer("payment_id", id).Msg("status update failed")
		httpRequestsTotal.WithLabelValues("POST", endpoint, "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "status update failed")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(status)})
}

// SuggestMatches runs the fuzzy matcher against the contact pool for
// one pending payment.
func (h *Handler) SuggestMatches(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/payments/{id}/matches"))
	defer timer.ObserveDuration()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/payments/{id}/matches", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	payment, err := h.store.PendingPaymentByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/payments/{id}/matches", "404").Inc()
			respondWithError(w, http.StatusNotFound, "payment not found")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/payments/{id}/matches", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "payment lookup failed")
		return
	}

	res, err := h.matcher.FindMatches(r.Context(), payment.NormalizedPayment)
	if err != nil {
		h.log.Error().Err(err).Stringer("payment_id", id).Msg("matching failed")
		httpRequestsTotal.WithLabelValues("GET", "/payments/{id}/matches", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "matching failed")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/payments/{id}/matches", "200").Inc()
	respondWithJSON(w, http.StatusOK, res)
}

// ConfirmReconciliation is the write path: it records the match and
// propagates it to the CRM and the CMS. A propagation failure still
// responds with the partial results so the operator can see which
// system did update before the rollback.
func (h *Handler) ConfirmReconciliation(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/reconciliations"))
	defer timer.ObserveDuration()

	var req recon.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/reconciliations", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.ReconciledByUserID == "" {
		req.ReconciledByUserID = r.Header.Get("X-User-ID")
	}

	result, err := h.orchestrator.ConfirmMatch(r.Context(), req)
	if err != nil {
		code := confirmStatusCode(err)
		reconciliationsTotal.WithLabelValues("failure").Inc()
		if result != nil && result.RollbackPerformed {
			rollbacksTotal.Inc()
		}
		httpRequestsTotal.WithLabelValues("POST", "/reconciliations", httpStatusLabel(code)).Inc()
		if result != nil {
			// Partial results survive the error for audit.
			respondWithJSON(w, code, result)
			return
		}
		respondWithError(w, code, err.Error())
		return
	}

	reconciliationsTotal.WithLabelValues("success").Inc()
	httpRequestsTotal.WithLabelValues("POST", "/reconciliations", "201").Inc()
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	fingerprint := mux.Vars(r)["fingerprint"]

	rec, err := h.store.ReconciliationByFingerprint(r.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrLogNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/reconciliations/{fingerprint}", "404").Inc()
			respondWithError(w, http.StatusNotFound, "no reconciliation for this fingerprint")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/reconciliations/{fingerprint}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/reconciliations/{fingerprint}", "200").Inc()
	respondWithJSON(w, http.StatusOK, rec)
}

func confirmStatusCode(err error) int {
	switch {
	case errors.Is(err, recon.ErrNonPositiveAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, recon.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrContactNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyReconciled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func httpStatusLabel(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "400"
	case http.StatusNotFound:
		return "404"
	case http.StatusUnprocessableEntity:
		return "422"
	case http.StatusConflict:
		return "409"
	default:
		return "500"
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
