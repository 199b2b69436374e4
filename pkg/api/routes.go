package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/DevFaso/hms-sub003/pkg/empi"
	"github.com/DevFaso/hms-sub003/pkg/observability/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type IdentityHandler struct {
	service *empi.Service
}

func NewIdentityHandler(service *empi.Service) *IdentityHandler {
	return &IdentityHandler{service: service}
}

func (h *IdentityHandler) Register(r *mux.Router) {
	r.HandleFunc("/identities/link", h.handleLink).Methods(http.MethodPost)
	r.HandleFunc("/identities/by-alias", h.handleFindByAlias).Methods(http.MethodGet)
	r.HandleFunc("/identities/by-number/{empiNumber}", h.handleGetByNumber).Methods(http.MethodGet)
	r.HandleFunc("/identities/by-patient/{patientReference}", h.handleGetByPatient).Methods(http.MethodGet)
	r.HandleFunc("/identities/merge", h.handleMerge).Methods(http.MethodPost)
	r.HandleFunc("/identities/{id}/aliases", h.handleAddAlias).Methods(http.MethodPost)
	r.HandleFunc("/identities/{id}/aliases/{aliasId}", h.handleRemoveAlias).Methods(http.MethodDelete)
	r.HandleFunc("/identities/{id}/deactivate", h.handleDeactivate).Methods(http.MethodPost)
}

func (h *IdentityHandler) handleLink(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}

	view, err := h.service.LinkIdentity(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *IdentityHandler) handleFindByAlias(w http.ResponseWriter, r *http.Request) {
	aliasType := r.URL.Query().Get("type")
	value := r.URL.Query().Get("value")

	view, found, err := h.service.FindIdentityByAlias(r.Context(), aliasType, value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"found": true, "identity": view})
}

func (h *IdentityHandler) handleGetByNumber(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["empiNumber"]
	view, err := h.service.GetByExternalIdentifier(r.Context(), number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *IdentityHandler) handleGetByPatient(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["patientReference"]
	view, err := h.service.GetByPatientReference(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *IdentityHandler) handleAddAlias(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	identityID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}

	var req models.AliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}

	view, err := h.service.AddAlias(r.Context(), identityID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *IdentityHandler) handleRemoveAlias(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	identityID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}
	aliasID, err := uuid.Parse(vars["aliasId"])
	if err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}

	if err := h.service.RemoveAlias(r.Context(), identityID, aliasID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IdentityHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	identityID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}

	if err := h.service.Deactivate(r.Context(), identityID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IdentityHandler) handleMerge(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}
	if req.PrimaryID == uuid.Nil || req.SecondaryID == uuid.Nil {
		writeError(w, r, empi.ErrInvalidInput)
		return
	}

	event, err := h.service.MergeIdentities(r.Context(), req.PrimaryID, req.SecondaryID, req.MergeType, req.Resolution)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// NewRouter assembles the service router: health probes, metrics and
// the versioned identity API behind the middleware chain.
func NewRouter(handler *IdentityHandler, auth *OIDCAuthenticator, rateLimitRPS, rateLimitBurst int) *mux.Router {
	router := mux.NewRouter()
	router.Use(Recovery, Logging)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(RateLimit(rateLimitRPS, rateLimitBurst))
	if auth != nil {
		apiRouter.Use(Authenticate(auth))
	}
	handler.Register(apiRouter)

	return router
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, errorBody{
		Code:    code,
		Message: resolveMessage(code, r.Header.Get("Accept-Language")),
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, empi.ErrIdentityNotFound):
		return http.StatusNotFound, "identity_not_found"
	case errors.Is(err, empi.ErrAliasNotFound):
		return http.StatusNotFound, "alias_not_found"
	case errors.Is(err, empi.ErrAliasConflict):
		return http.StatusConflict, "alias_claimed"
	case errors.Is(err, empi.ErrDuplicateAlias):
		return http.StatusConflict, "alias_duplicate"
	case errors.Is(err, empi.ErrOrphanedAlias):
		return http.StatusConflict, "orphaned_alias"
	case errors.Is(err, empi.ErrIdentityNotActive):
		return http.StatusConflict, "identity_not_active"
	case errors.Is(err, empi.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, empi.ErrIdentifierExhausted):
		return http.StatusServiceUnavailable, "identifier_exhausted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
