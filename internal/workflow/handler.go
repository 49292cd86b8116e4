package workflow

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler handles HTTP requests for the workflow module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new workflow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the workflow module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/workflow", h.GetWorkflow)

	r.Get("/sessions", h.ListSessions)
	r.Post("/sessions", h.CreateSession)
	r.Delete("/sessions", h.ClearSessions)
	r.Get("/sessions/{id}", h.GetSession)
	r.Post("/sessions/{id}/load", h.LoadSession)
	r.Delete("/sessions/{id}", h.DeleteSession)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetActiveSession)
		r.Patch("/", h.UpdateSession)
		r.Put("/step", h.SetStep)
		r.Post("/step/next", h.NextStep)
		r.Post("/step/previous", h.PreviousStep)
		r.Patch("/incident", h.UpdateIncident)
		r.Put("/connectors", h.UpdateConnectors)
		r.Patch("/triage", h.UpdateTriage)
		r.Post("/timeline", h.AddTimelineEvent)
		r.Post("/findings", h.AddFinding)
		r.Post("/decisions", h.AddDecision)
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNoActiveSession, Status: http.StatusConflict},
	{Error: ErrSessionNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidStep, Status: http.StatusBadRequest},
	{Error: ErrInvalidScenario, Status: http.StatusBadRequest},
}

// WorkflowResponse describes the navigation state of the wizard.
type WorkflowResponse struct {
	ActiveSession    *domain.Session       `json:"active_session"`
	CurrentStep      domain.WorkflowStep   `json:"current_step"`
	StepIndex        int                   `json:"step_index"`
	Steps            []domain.WorkflowStep `json:"steps"`
	RecentSessionIDs []string              `json:"recent_session_ids"`
}

// StepResponse is returned by the navigation endpoints.
type StepResponse struct {
	CurrentStep domain.WorkflowStep `json:"current_step"`
	StepIndex   int                 `json:"step_index"`
}

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Scenario string `json:"scenario" validate:"omitempty,max=64"`
}

// OrganizationRequest describes the organization under investigation.
type OrganizationRequest struct {
	Name     string   `json:"name" validate:"required,max=255"`
	Industry string   `json:"industry" validate:"max=255"`
	Size     string   `json:"size" validate:"max=64"`
	Contacts []string `json:"contacts" validate:"omitempty,dive,max=255"`
}

// UpdateSessionRequest represents the request body for patching the active session.
type UpdateSessionRequest struct {
	Scenario     *string              `json:"scenario" validate:"omitempty,oneof=ransomware data_exfiltration business_email_compromise insider_threat custom"`
	Completed    *bool                `json:"completed"`
	Organization *OrganizationRequest `json:"organization"`
}

// SetStepRequest represents the request body for jumping to a step.
type SetStepRequest struct {
	Step string `json:"step" validate:"required"`
}

// SystemRequest describes an extracted system.
type SystemRequest struct {
	ID          string `json:"id" validate:"required,max=128"`
	Hostname    string `json:"hostname" validate:"required,max=255"`
	IPAddress   string `json:"ip_address" validate:"max=64"`
	Role        string `json:"role" validate:"max=255"`
	Criticality string `json:"criticality" validate:"required,oneof=critical high medium low"`
}

// UpdateIncidentRequest represents the request body for patching the incident description.
// Absent fields are left unchanged.
type UpdateIncidentRequest struct {
	Summary          *string         `json:"summary" validate:"omitempty,max=10000"`
	IncidentType     *string         `json:"incident_type" validate:"omitempty,max=64"`
	DetectedAt       *time.Time      `json:"detected_at"`
	ReportedBy       *string         `json:"reported_by" validate:"omitempty,max=255"`
	Indicators       []string        `json:"indicators" validate:"omitempty,dive,max=1024"`
	ExtractedSystems []SystemRequest `json:"extracted_systems" validate:"omitempty,dive"`
}

// ToPatch converts the request to a service patch.
func (r *UpdateIncidentRequest) ToPatch() IncidentPatch {
	patch := IncidentPatch{
		Summary:      r.Summary,
		IncidentType: r.IncidentType,
		DetectedAt:   r.DetectedAt,
		ReportedBy:   r.ReportedBy,
	}
	if r.Indicators != nil {
		patch.Indicators = &r.Indicators
	}
	if r.ExtractedSystems != nil {
		systems := make([]domain.ExtractedSystem, 0, len(r.ExtractedSystems))
		for _, s := range r.ExtractedSystems {
			systems = append(systems, domain.ExtractedSystem{
				ID:          s.ID,
				Hostname:    s.Hostname,
				IPAddress:   s.IPAddress,
				Role:        s.Role,
				Criticality: domain.Criticality(s.Criticality),
			})
		}
		patch.ExtractedSystems = &systems
	}
	return patch
}

// ConnectorRequest describes a data-source connector.
type ConnectorRequest struct {
	ID       string `json:"id" validate:"max=128"`
	Name     string `json:"name" validate:"required,max=255"`
	Type     string `json:"type" validate:"required,max=64"`
	Endpoint string `json:"endpoint" validate:"omitempty,max=2048"`
	Enabled  bool   `json:"enabled"`
	Status   string `json:"status" validate:"omitempty,oneof=not_configured configured connected error"`
}

// UpdateConnectorsRequest represents the request body for replacing the connector list.
type UpdateConnectorsRequest struct {
	Connectors []ConnectorRequest `json:"connectors" validate:"required,dive"`
}

// PhaseRequest describes one triage phase.
type PhaseRequest struct {
	Name        string     `json:"name" validate:"required,max=128"`
	Status      string     `json:"status" validate:"required,oneof=idle running completed failed"`
	Progress    int        `json:"progress" validate:"min=0,max=100"`
	Summary     string     `json:"summary" validate:"max=4096"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// UpdateTriageRequest represents the request body for patching the triage state.
type UpdateTriageRequest struct {
	Status      *string        `json:"status" validate:"omitempty,oneof=idle running completed failed"`
	Phases      []PhaseRequest `json:"phases" validate:"omitempty,dive"`
	Progress    *int           `json:"progress" validate:"omitempty,min=0,max=100"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// ToPatch converts the request to a service patch.
func (r *UpdateTriageRequest) ToPatch() TriagePatch {
	patch := TriagePatch{
		Progress:    r.Progress,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Status != nil {
		status := domain.TriageStatus(*r.Status)
		patch.Status = &status
	}
	if r.Phases != nil {
		phases := make([]domain.TriagePhase, 0, len(r.Phases))
		for _, p := range r.Phases {
			phases = append(phases, domain.TriagePhase{
				Name:        p.Name,
				Status:      domain.TriageStatus(p.Status),
				Progress:    p.Progress,
				Summary:     p.Summary,
				StartedAt:   p.StartedAt,
				CompletedAt: p.CompletedAt,
			})
		}
		patch.Phases = &phases
	}
	return patch
}

// TimelineEventRequest represents the request body for appending a timeline event.
type TimelineEventRequest struct {
	ID          string     `json:"id" validate:"max=128"`
	Timestamp   *time.Time `json:"timestamp"`
	Source      string     `json:"source" validate:"required,max=128"`
	Description string     `json:"description" validate:"required,max=4096"`
	Severity    string     `json:"severity" validate:"max=32"`
	Technique   string     `json:"technique" validate:"max=64"`
	SystemIDs   []string   `json:"system_ids"`
}

// ToDomain converts the request to a domain model.
func (r *TimelineEventRequest) ToDomain() domain.TimelineEvent {
	e := domain.TimelineEvent{
		ID:          r.ID,
		Source:      r.Source,
		Description: r.Description,
		Severity:    r.Severity,
		Technique:   r.Technique,
		SystemIDs:   r.SystemIDs,
	}
	if r.Timestamp != nil {
		e.Timestamp = *r.Timestamp
	}
	return e
}

// FindingRequest represents the request body for appending a finding.
type FindingRequest struct {
	ID          string   `json:"id" validate:"max=128"`
	Title       string   `json:"title" validate:"required,max=255"`
	Description string   `json:"description" validate:"max=10000"`
	Severity    string   `json:"severity" validate:"required,max=32"`
	Confidence  float64  `json:"confidence" validate:"min=0,max=1"`
	Evidence    []string `json:"evidence"`
	SystemIDs   []string `json:"system_ids"`
}

// ToDomain converts the request to a domain model.
func (r *FindingRequest) ToDomain() domain.Finding {
	return domain.Finding{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Severity:    r.Severity,
		Confidence:  r.Confidence,
		Evidence:    r.Evidence,
		SystemIDs:   r.SystemIDs,
	}
}

// DecisionRequest represents the request body for recording a verification decision.
type DecisionRequest struct {
	FindingID string `json:"finding_id" validate:"required,max=128"`
	Decision  string `json:"decision" validate:"required,oneof=confirmed rejected needs_review false_positive"`
	Analyst   string `json:"analyst" validate:"max=255"`
	Notes     string `json:"notes" validate:"max=10000"`
}

// GetWorkflow handles GET /workflow request.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	snap := h.service.Snapshot()

	ids := make([]string, 0, len(snap.RecentSessions))
	for _, s := range snap.RecentSessions {
		ids = append(ids, s.ID)
	}

	httputil.Success(w, http.StatusOK, WorkflowResponse{
		ActiveSession:    snap.ActiveSession,
		CurrentStep:      snap.CurrentStep,
		StepIndex:        snap.StepIndex,
		Steps:            domain.WorkflowSteps(),
		RecentSessionIDs: ids,
	})
}

// ListSessions handles GET /sessions request.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.service.RecentSessions())
}

// CreateSession handles POST /sessions request.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
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

	sess, err := h.service.CreateSession(r.Context(), domain.ScenarioTag(req.Scenario))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, sess)
}

// ClearSessions handles DELETE /sessions request.
func (h *Handler) ClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearRecentSessions(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /sessions/{id} request.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, sess)
}

// LoadSession handles POST /sessions/{id}/load request.
func (h *Handler) LoadSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.LoadSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /sessions/{id} request.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetActiveSession handles GET /session request.
func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.ActiveSession()
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, sess)
}

// UpdateSession handles PATCH /session request.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	patch := SessionPatch{Completed: req.Completed}
	if req.Scenario != nil {
		tag := domain.ScenarioTag(*req.Scenario)
		patch.Scenario = &tag
	}
	if req.Organization != nil {
		patch.Organization = &domain.OrganizationContext{
			Name:     req.Organization.Name,
			Industry: req.Organization.Industry,
			Size:     req.Organization.Size,
			Contacts: req.Organization.Contacts,
		}
	}

	sess, err := h.service.UpdateSession(r.Context(), patch)
	h.respondSession(w, r, sess, err)
}

// SetStep handles PUT /session/step request.
func (h *Handler) SetStep(w http.ResponseWriter, r *http.Request) {
	var req SetStepRequest
	if !h.decode(w, r, &req) {
		return
	}

	step, err := h.service.SetCurrentStep(r.Context(), domain.WorkflowStep(req.Step))
	h.respondStep(w, r, step, err)
}

// NextStep handles POST /session/step/next request.
func (h *Handler) NextStep(w http.ResponseWriter, r *http.Request) {
	step, err := h.service.GoToNextStep(r.Context())
	h.respondStep(w, r, step, err)
}

// PreviousStep handles POST /session/step/previous request.
func (h *Handler) PreviousStep(w http.ResponseWriter, r *http.Request) {
	step, err := h.service.GoToPreviousStep(r.Context())
	h.respondStep(w, r, step, err)
}

// UpdateIncident handles PATCH /session/incident request.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.UpdateIncidentDescription(r.Context(), req.ToPatch())
	h.respondSession(w, r, sess, err)
}

// UpdateConnectors handles PUT /session/connectors request.
func (h *Handler) UpdateConnectors(w http.ResponseWriter, r *http.Request) {
	var req UpdateConnectorsRequest
	if !h.decode(w, r, &req) {
		return
	}

	connectors := make([]domain.ConnectorConfig, 0, len(req.Connectors))
	for _, c := range req.Connectors {
		connectors = append(connectors, domain.ConnectorConfig{
			ID:       c.ID,
			Name:     c.Name,
			Type:     c.Type,
			Endpoint: c.Endpoint,
			Enabled:  c.Enabled,
			Status:   domain.ConnectorStatus(c.Status),
		})
	}

	sess, err := h.service.UpdateConnectors(r.Context(), connectors)
	h.respondSession(w, r, sess, err)
}

// UpdateTriage handles PATCH /session/triage request.
func (h *Handler) UpdateTriage(w http.ResponseWriter, r *http.Request) {
	var req UpdateTriageRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.UpdateTriageState(r.Context(), req.ToPatch())
	h.respondSession(w, r, sess, err)
}

// AddTimelineEvent handles POST /session/timeline request.
func (h *Handler) AddTimelineEvent(w http.ResponseWriter, r *http.Request) {
	var req TimelineEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.AddTimelineEvent(r.Context(), req.ToDomain())
	h.respondCreated(w, r, sess, err)
}

// AddFinding handles POST /session/findings request.
func (h *Handler) AddFinding(w http.ResponseWriter, r *http.Request) {
	var req FindingRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.AddFinding(r.Context(), req.ToDomain())
	h.respondCreated(w, r, sess, err)
}

// AddDecision handles POST /session/decisions request.
func (h *Handler) AddDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.service.AddVerificationDecision(r.Context(), domain.VerificationDecision{
		FindingID: req.FindingID,
		Decision:  domain.Decision(req.Decision),
		Analyst:   req.Analyst,
		Notes:     req.Notes,
	})
	h.respondCreated(w, r, sess, err)
}

// decode parses and validates the request body. On failure the response is already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, sess *domain.Session, err error) {
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, sess)
}

func (h *Handler) respondCreated(w http.ResponseWriter, r *http.Request, sess *domain.Session, err error) {
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, sess)
}

func (h *Handler) respondStep(w http.ResponseWriter, r *http.Request, step domain.WorkflowStep, err error) {
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, StepResponse{CurrentStep: step, StepIndex: step.Index()})
}
