package validation

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/pkg/httputil"
	"github.com/bissquit/triage-garden/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// SessionReader looks up sessions owned by the workflow module.
type SessionReader interface {
	Session(id string) (*domain.Session, error)
}

// Handler handles HTTP requests for the validation module.
type Handler struct {
	engine    *Engine
	sessions  SessionReader
	validator *validator.Validate
}

// NewHandler creates a new validation handler.
func NewHandler(engine *Engine, sessions SessionReader) *Handler {
	return &Handler{
		engine:    engine,
		sessions:  sessions,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the validation module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions/{id}/validation", func(r chi.Router) {
		r.Use(httputil.LogURLParam("id", "session_id"))
		r.Get("/", h.GetBoard)
		r.Delete("/", h.Reset)
		r.Post("/initialize", h.Initialize)
		r.Put("/auto-validate", h.SetAutoValidate)
		r.Post("/run", h.RunAll)
		r.Post("/revalidate-failed", h.RevalidateFailed)
		r.Get("/discrepancies", h.ListDiscrepancies)
		r.Post("/systems/{systemID}/run", h.RunSystem)
		r.Delete("/systems/{systemID}", h.ClearSystem)
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrBoardNotFound, Status: http.StatusNotFound},
	{Error: ErrSystemNotFound, Status: http.StatusNotFound},
	{Error: workflow.ErrSessionNotFound, Status: http.StatusNotFound},
	{Error: ErrValidationInProgress, Status: http.StatusConflict},
	{Error: ErrUnknownMethod, Status: http.StatusBadRequest},
	{Error: ErrInvalidCriticality, Status: http.StatusBadRequest},
	{Error: ErrEngineStopped, Status: http.StatusServiceUnavailable},
}

// SystemRequest describes a system to validate.
type SystemRequest struct {
	ID          string `json:"id" validate:"required,max=128"`
	Hostname    string `json:"hostname" validate:"required,max=255"`
	IPAddress   string `json:"ip_address" validate:"max=64"`
	Role        string `json:"role" validate:"max=255"`
	Criticality string `json:"criticality" validate:"required,oneof=critical high medium low"`
}

// InitializeRequest represents the request body for initializing a board.
// Without systems the session's extracted systems are used.
type InitializeRequest struct {
	Systems []SystemRequest `json:"systems" validate:"omitempty,dive"`
}

// InitializeResponse is returned by the initialize endpoint.
type InitializeResponse struct {
	Initialized bool  `json:"initialized"`
	Board       Board `json:"board"`
}

// AutoValidateRequest represents the request body for toggling auto-validation.
type AutoValidateRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// RunSystemRequest represents the request body for validating one system.
type RunSystemRequest struct {
	Methods []string `json:"methods" validate:"omitempty,dive,oneof=ping dns ad_lookup spn port_scan cert_check"`
}

// GetBoard handles GET /sessions/{id}/validation request.
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Board(chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, b)
}

// Initialize handles POST /sessions/{id}/validation/initialize request.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req InitializeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sess, err := h.sessions.Session(sessionID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	var systems []domain.ExtractedSystem
	if len(req.Systems) > 0 {
		for _, s := range req.Systems {
			systems = append(systems, domain.ExtractedSystem{
				ID:          s.ID,
				Hostname:    s.Hostname,
				IPAddress:   s.IPAddress,
				Role:        s.Role,
				Criticality: domain.Criticality(s.Criticality),
			})
		}
	} else if sess.IncidentDescription != nil {
		systems = sess.IncidentDescription.ExtractedSystems
	}

	created, err := h.engine.InitializeFromSystems(r.Context(), sessionID, systems)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	// The session may have been deleted while the board was built; its deletion hook
	// has then already run, so drop the board here.
	if _, err := h.sessions.Session(sessionID); err != nil {
		if created {
			h.engine.ForgetSession(r.Context(), sessionID)
		}
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	b, err := h.engine.Board(sessionID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.Success(w, status, InitializeResponse{Initialized: created, Board: b})
}

// SetAutoValidate handles PUT /sessions/{id}/validation/auto-validate request.
func (h *Handler) SetAutoValidate(w http.ResponseWriter, r *http.Request) {
	var req AutoValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sessionID := chi.URLParam(r, "id")
	if err := h.engine.SetAutoValidate(r.Context(), sessionID, *req.Enabled); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]bool{"auto_validate": *req.Enabled})
}

// RunAll handles POST /sessions/{id}/validation/run request.
// With ?wait=true the response is sent after the run finishes.
func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if wantsWait(r) {
		if err := h.engine.ValidateAllSystems(r.Context(), sessionID); err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		h.respondBoard(w, r, sessionID)
		return
	}

	if err := h.engine.StartValidateAllSystems(r.Context(), sessionID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// RevalidateFailed handles POST /sessions/{id}/validation/revalidate-failed request.
func (h *Handler) RevalidateFailed(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if wantsWait(r) {
		if _, err := h.engine.RevalidateFailed(r.Context(), sessionID); err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		h.respondBoard(w, r, sessionID)
		return
	}

	if err := h.engine.StartRevalidateFailed(r.Context(), sessionID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// RunSystem handles POST /sessions/{id}/validation/systems/{systemID}/run request.
func (h *Handler) RunSystem(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	systemID := chi.URLParam(r, "systemID")

	var req RunSystemRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	methods := make([]domain.ValidationMethod, 0, len(req.Methods))
	for _, m := range req.Methods {
		methods = append(methods, domain.ValidationMethod(m))
	}

	if wantsWait(r) {
		if err := h.engine.ValidateSystem(r.Context(), sessionID, systemID, methods...); err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		h.respondBoard(w, r, sessionID)
		return
	}

	if err := h.engine.StartValidateSystem(r.Context(), sessionID, systemID, methods...); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// ClearSystem handles DELETE /sessions/{id}/validation/systems/{systemID} request.
func (h *Handler) ClearSystem(w http.ResponseWriter, r *http.Request) {
	err := h.engine.ClearValidation(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "systemID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reset handles DELETE /sessions/{id}/validation request.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetValidation(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListDiscrepancies handles GET /sessions/{id}/validation/discrepancies request.
func (h *Handler) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Discrepancies(chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

func (h *Handler) respondBoard(w http.ResponseWriter, r *http.Request, sessionID string) {
	b, err := h.engine.Board(sessionID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, b)
}

func wantsWait(r *http.Request) bool {
	return r.URL.Query().Get("wait") == "true"
}
