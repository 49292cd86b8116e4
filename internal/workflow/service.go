// Package workflow manages investigation sessions and their navigation through the triage workflow.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/pkg/ctxlog"
	"github.com/bissquit/triage-garden/internal/scenario"
	"github.com/bissquit/triage-garden/internal/storage"
	"github.com/google/uuid"
)

// MaxRecentSessions is the size of the recent-sessions history.
const MaxRecentSessions = 10

// SeedSource provides scenario seeds for new sessions.
type SeedSource interface {
	Seed(tag domain.ScenarioTag) (scenario.Seed, bool)
}

// SessionObserver is notified when sessions leave the recent list.
type SessionObserver interface {
	OnSessionDeleted(ctx context.Context, sessionID string)
}

// SessionPatch holds the top-level session fields to merge. Nil fields are left unchanged.
type SessionPatch struct {
	Scenario     *domain.ScenarioTag
	Completed    *bool
	Organization *domain.OrganizationContext
}

// IncidentPatch holds incident description fields to merge.
type IncidentPatch struct {
	Summary          *string
	IncidentType     *string
	DetectedAt       *time.Time
	ReportedBy       *string
	Indicators       *[]string
	ExtractedSystems *[]domain.ExtractedSystem
}

// TriagePatch holds triage state fields to merge.
type TriagePatch struct {
	Status      *domain.TriageStatus
	Phases      *[]domain.TriagePhase
	Progress    *int
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Snapshot is a consistent copy of the workflow state.
type Snapshot struct {
	ActiveSession  *domain.Session     `json:"active_session"`
	CurrentStep    domain.WorkflowStep `json:"current_step"`
	StepIndex      int                 `json:"step_index"`
	RecentSessions []*domain.Session   `json:"recent_sessions"`
}

type state struct {
	activeID string
	recent   []*domain.Session
	step     domain.WorkflowStep
}

func (st state) find(id string) int {
	for i, s := range st.recent {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Service implements the session lifecycle.
// Every mutation is persisted before it becomes visible; a failed write leaves the state unchanged.
type Service struct {
	store storage.Store
	seeds SeedSource
	now   func() time.Time

	mu        sync.Mutex
	st        state
	observers []SessionObserver
}

// NewService creates a new workflow service. seeds may be nil.
func NewService(store storage.Store, seeds SeedSource) *Service {
	return &Service{
		store: store,
		seeds: seeds,
		now:   time.Now,
		st:    state{step: domain.StepDashboard},
	}
}

// AddObserver registers an observer for session removal.
func (s *Service) AddObserver(o SessionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Restore loads the persisted state. It must be called once before serving.
func (s *Service) Restore(ctx context.Context) error {
	loaded, err := loadState(ctx, s.store)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	next := state{step: domain.StepDashboard}
	seen := make(map[string]bool)
	for _, sess := range loaded.RecentSessions {
		if sess == nil || sess.ID == "" || seen[sess.ID] {
			continue
		}
		seen[sess.ID] = true
		sess.CurrentStep = sess.CurrentStep.OrDashboard()
		if !sess.Scenario.IsValid() {
			sess.Scenario = domain.ScenarioCustom
		}
		next.recent = append(next.recent, sess)
	}
	if len(next.recent) > MaxRecentSessions {
		next.recent = next.recent[:MaxRecentSessions]
	}
	if i := next.find(loaded.ActiveSessionID); i >= 0 {
		next.activeID = loaded.ActiveSessionID
		next.step = next.recent[i].CurrentStep
	}

	s.mu.Lock()
	s.st = next
	s.mu.Unlock()

	ctxlog.FromContext(ctx).Info("session state restored",
		"recent_sessions", len(next.recent),
		"active_session_id", next.activeID,
		"schema_version", loaded.SchemaVersion,
	)
	return nil
}

// CreateSession starts a new investigation and makes it the active session.
// An empty or unknown tag creates a custom session.
func (s *Service) CreateSession(ctx context.Context, tag domain.ScenarioTag) (*domain.Session, error) {
	if !tag.IsValid() {
		tag = domain.ScenarioCustom
	}

	now := s.now()
	sess := &domain.Session{
		ID:          uuid.New().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Scenario:    tag,
		CurrentStep: domain.StepOrganizationContext,
		Connectors:  []domain.ConnectorConfig{},
		Timeline:    []domain.TimelineEvent{},
		Findings:    []domain.Finding{},
		Decisions:   []domain.VerificationDecision{},
	}
	s.applySeed(sess)

	s.mu.Lock()
	next := state{
		activeID: sess.ID,
		recent:   append([]*domain.Session{sess}, s.st.recent...),
		step:     sess.CurrentStep,
	}
	var evicted []string
	if len(next.recent) > MaxRecentSessions {
		for _, old := range next.recent[MaxRecentSessions:] {
			evicted = append(evicted, old.ID)
		}
		next.recent = next.recent[:MaxRecentSessions]
	}
	if err := s.commit(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	observers := s.observers
	s.mu.Unlock()

	recordSessionCreated(string(tag))
	ctxlog.FromContext(ctx).Info("session created", "session_id", sess.ID, "scenario", tag)
	s.notifyDeleted(ctx, observers, evicted)
	return sess.Clone(), nil
}

func (s *Service) applySeed(sess *domain.Session) {
	if s.seeds == nil {
		return
	}
	seed, ok := s.seeds.Seed(sess.Scenario)
	if !ok {
		return
	}
	sess.Organization = seed.Organization
	desc := seed.IncidentDescription
	sess.IncidentDescription = &desc
	if seed.Connectors != nil {
		sess.Connectors = seed.Connectors
	}
}

// LoadSession makes a recent session active and moves it to the front of the history.
func (s *Service) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.st.find(id)
	if i < 0 {
		return nil, ErrSessionNotFound
	}

	sess := s.st.recent[i].Clone()
	sess.UpdatedAt = s.now()
	sess.CurrentStep = sess.CurrentStep.OrDashboard()

	recent := make([]*domain.Session, 0, len(s.st.recent))
	recent = append(recent, sess)
	recent = append(recent, s.st.recent[:i]...)
	recent = append(recent, s.st.recent[i+1:]...)

	if err := s.commit(ctx, state{activeID: id, recent: recent, step: sess.CurrentStep}); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// UpdateSession merges top-level fields into the active session.
func (s *Service) UpdateSession(ctx context.Context, patch SessionPatch) (*domain.Session, error) {
	if patch.Scenario != nil && !patch.Scenario.IsValid() {
		return nil, ErrInvalidScenario
	}
	return s.mutateActive(ctx, func(sess *domain.Session) {
		if patch.Scenario != nil {
			sess.Scenario = *patch.Scenario
		}
		if patch.Completed != nil {
			sess.Completed = *patch.Completed
		}
		if patch.Organization != nil {
			org := *patch.Organization
			org.Contacts = append([]string(nil), patch.Organization.Contacts...)
			sess.Organization = &org
		}
	})
}

// DeleteSession removes a session from the history. Deleting the active session unsets it.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.st.find(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	next := state{activeID: s.st.activeID, step: s.st.step}
	next.recent = append(next.recent, s.st.recent[:i]...)
	next.recent = append(next.recent, s.st.recent[i+1:]...)
	if next.activeID == id {
		next.activeID = ""
		next.step = domain.StepDashboard
	}
	if err := s.commit(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	observers := s.observers
	s.mu.Unlock()

	ctxlog.FromContext(ctx).Info("session deleted", "session_id", id)
	s.notifyDeleted(ctx, observers, []string{id})
	return nil
}

// ClearRecentSessions drops the whole history and unsets the active session.
func (s *Service) ClearRecentSessions(ctx context.Context) error {
	s.mu.Lock()
	dropped := make([]string, 0, len(s.st.recent))
	for _, sess := range s.st.recent {
		dropped = append(dropped, sess.ID)
	}
	if err := s.commit(ctx, state{step: domain.StepDashboard}); err != nil {
		s.mu.Unlock()
		return err
	}
	observers := s.observers
	s.mu.Unlock()

	ctxlog.FromContext(ctx).Info("recent sessions cleared", "count", len(dropped))
	s.notifyDeleted(ctx, observers, dropped)
	return nil
}

// SetCurrentStep jumps to any step of the workflow.
func (s *Service) SetCurrentStep(ctx context.Context, step domain.WorkflowStep) (domain.WorkflowStep, error) {
	if !step.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStep, step)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveTo(ctx, step)
}

// GoToNextStep advances one step. At the last step it is a no-op.
func (s *Service) GoToNextStep(ctx context.Context) (domain.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveTo(ctx, s.st.step.Next())
}

// GoToPreviousStep goes back one step. At the first step it is a no-op.
func (s *Service) GoToPreviousStep(ctx context.Context) (domain.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveTo(ctx, s.st.step.Previous())
}

// moveTo must be called with s.mu held.
func (s *Service) moveTo(ctx context.Context, step domain.WorkflowStep) (domain.WorkflowStep, error) {
	if step == s.st.step {
		return step, nil
	}

	next := state{activeID: s.st.activeID, recent: s.st.recent, step: step}
	if i := s.st.find(s.st.activeID); i >= 0 {
		sess := s.st.recent[i].Clone()
		sess.CurrentStep = step
		sess.UpdatedAt = s.now()
		next.recent = replaceAt(s.st.recent, i, sess)
		if err := s.commit(ctx, next); err != nil {
			return s.st.step, err
		}
	} else {
		s.st = next
	}

	recordStepTransition(string(step))
	return step, nil
}

// UpdateIncidentDescription merges fields into the incident description of the active session.
func (s *Service) UpdateIncidentDescription(ctx context.Context, patch IncidentPatch) (*domain.Session, error) {
	return s.mutateActive(ctx, func(sess *domain.Session) {
		d := sess.IncidentDescription
		if d == nil {
			d = &domain.IncidentDescription{}
			sess.IncidentDescription = d
		}
		if patch.Summary != nil {
			d.Summary = *patch.Summary
		}
		if patch.IncidentType != nil {
			d.IncidentType = *patch.IncidentType
		}
		if patch.DetectedAt != nil {
			t := *patch.DetectedAt
			d.DetectedAt = &t
		}
		if patch.ReportedBy != nil {
			d.ReportedBy = *patch.ReportedBy
		}
		if patch.Indicators != nil {
			d.Indicators = append([]string(nil), (*patch.Indicators)...)
		}
		if patch.ExtractedSystems != nil {
			d.ExtractedSystems = append([]domain.ExtractedSystem(nil), (*patch.ExtractedSystems)...)
		}
	})
}

// UpdateConnectors replaces the connector list of the active session.
func (s *Service) UpdateConnectors(ctx context.Context, connectors []domain.ConnectorConfig) (*domain.Session, error) {
	return s.mutateActive(ctx, func(sess *domain.Session) {
		sess.Connectors = make([]domain.ConnectorConfig, 0, len(connectors))
		for _, c := range connectors {
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			if c.Status == "" {
				c.Status = domain.ConnectorStatusNotConfigured
			}
			sess.Connectors = append(sess.Connectors, c)
		}
	})
}

// UpdateTriageState merges fields into the triage state of the active session.
func (s *Service) UpdateTriageState(ctx context.Context, patch TriagePatch) (*domain.Session, error) {
	return s.mutateActive(ctx, func(sess *domain.Session) {
		t := sess.Triage
		if t == nil {
			t = &domain.TriageState{Status: domain.TriageStatusIdle, Phases: []domain.TriagePhase{}}
			sess.Triage = t
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Phases != nil {
			t.Phases = append([]domain.TriagePhase(nil), (*patch.Phases)...)
		}
		if patch.Progress != nil {
			t.Progress = *patch.Progress
		}
		if patch.StartedAt != nil {
			v := *patch.StartedAt
			t.StartedAt = &v
		}
		if patch.CompletedAt != nil {
			v := *patch.CompletedAt
			t.CompletedAt = &v
		}
	})
}

// AddTimelineEvent appends an event to the timeline of the active session.
func (s *Service) AddTimelineEvent(ctx context.Context, event domain.TimelineEvent) (*domain.Session, error) {
	return s.mutateActive(ctx, func(sess *domain.Session) {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = s.now()
		}
		event.SystemIDs = append([]string(nil), event.SystemIDs...)
		sess.Timeline = append(sess.Timeline, event)
	})
}

// AddFinding appends a finding to the active session.
func (s *Service) AddFinding(ctx context.Context, finding domain.Finding) (*domain.Session, error) {
	return s.mutateActive(ctx, func(sess *domain.Session) {
		if finding.ID == "" {
			finding.ID = uuid.New().String()
		}
		if finding.CreatedAt.IsZero() {
			finding.CreatedAt = s.now()
		}
		finding.Evidence = append([]string(nil), finding.Evidence...)
		finding.SystemIDs = append([]string(nil), finding.SystemIDs...)
		sess.Findings = append(sess.Findings, finding)
	})
}

// AddVerificationDecision appends an analyst decision to the active session.
func (s *Service) AddVerificationDecision(ctx context.Context, decision domain.VerificationDecision) (*domain.Session, error) {
	return s.mutateActive(ctx, func(sess *domain.Session) {
		if decision.DecidedAt.IsZero() {
			decision.DecidedAt = s.now()
		}
		sess.Decisions = append(sess.Decisions, decision)
	})
}

// ActiveSession returns a copy of the active session.
func (s *Service) ActiveSession() (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.st.find(s.st.activeID)
	if i < 0 {
		return nil, ErrNoActiveSession
	}
	return s.st.recent[i].Clone(), nil
}

// Session returns a copy of a recent session.
func (s *Service) Session(id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.st.find(id)
	if i < 0 {
		return nil, ErrSessionNotFound
	}
	return s.st.recent[i].Clone(), nil
}

// CurrentStep returns the current workflow step.
func (s *Service) CurrentStep() domain.WorkflowStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.step
}

// RecentSessions returns copies of the recent sessions, most recent first.
func (s *Service) RecentSessions() []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.st.recent)
}

// Snapshot returns a consistent copy of the whole workflow state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		CurrentStep:    s.st.step,
		StepIndex:      s.st.step.Index(),
		RecentSessions: cloneAll(s.st.recent),
	}
	if i := s.st.find(s.st.activeID); i >= 0 {
		snap.ActiveSession = snap.RecentSessions[i].Clone()
	}
	return snap
}

func (s *Service) mutateActive(ctx context.Context, fn func(sess *domain.Session)) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.st.find(s.st.activeID)
	if i < 0 {
		return nil, ErrNoActiveSession
	}

	sess := s.st.recent[i].Clone()
	fn(sess)
	sess.UpdatedAt = s.now()

	next := state{activeID: s.st.activeID, recent: replaceAt(s.st.recent, i, sess), step: s.st.step}
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// commit persists next and installs it. It must be called with s.mu held.
func (s *Service) commit(ctx context.Context, next state) error {
	raw, err := encodeState(next.activeID, next.recent)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := s.store.Put(ctx, StateKey, raw); err != nil {
		recordPersistFailure()
		ctxlog.FromContext(ctx).Error("failed to persist session state", "error", err)
		return fmt.Errorf("persist session state: %w", err)
	}
	s.st = next
	return nil
}

func (s *Service) notifyDeleted(ctx context.Context, observers []SessionObserver, ids []string) {
	if len(ids) == 0 {
		return
	}
	recordSessionsDeleted(len(ids))
	for _, id := range ids {
		for _, o := range observers {
			o.OnSessionDeleted(ctx, id)
		}
	}
}

func replaceAt(list []*domain.Session, i int, sess *domain.Session) []*domain.Session {
	out := make([]*domain.Session, len(list))
	copy(out, list)
	out[i] = sess
	return out
}

func cloneAll(list []*domain.Session) []*domain.Session {
	out := make([]*domain.Session, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Clone())
	}
	return out
}
