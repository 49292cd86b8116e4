// Package validation runs infrastructure checks against the systems of an investigation
// and derives their overall status and discrepancies.
package validation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/pkg/ctxlog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config contains engine configuration.
type Config struct {
	Concurrency         int
	ProbeTimeout        time.Duration
	ProbeRetries        int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// ProbeRate limits probe calls per second across all runs. Zero disables the limit.
	ProbeRate  float64
	ProbeBurst int
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:         4,
		ProbeTimeout:        10 * time.Second,
		ProbeRetries:        2,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,
		ProbeBurst:          1,
	}
}

// DiscrepancyObserver is notified of every discrepancy the engine records.
type DiscrepancyObserver interface {
	OnDiscrepancy(ctx context.Context, sessionID string, d domain.Discrepancy)
}

// Summary counts the systems and discrepancies of a board.
type Summary struct {
	Total                 int `json:"total"`
	Pending               int `json:"pending"`
	Verified              int `json:"verified"`
	Failed                int `json:"failed"`
	Inconclusive          int `json:"inconclusive"`
	Unknown               int `json:"unknown"`
	Running               int `json:"running"`
	CriticalDiscrepancies int `json:"critical_discrepancies"`
	WarningDiscrepancies  int `json:"warning_discrepancies"`
}

// Board is a snapshot of the validation state of one session.
type Board struct {
	SessionID          string                    `json:"session_id"`
	Systems            []domain.SystemValidation `json:"systems"`
	Discrepancies      []domain.Discrepancy      `json:"discrepancies"`
	Summary            Summary                   `json:"summary"`
	AutoValidate       bool                      `json:"auto_validate"`
	LastFullValidation *time.Time                `json:"last_full_validation,omitempty"`
}

type systemState struct {
	validation    domain.SystemValidation
	discrepancies []domain.Discrepancy

	generation uint64
	running    bool
	cancel     context.CancelFunc
}

type board struct {
	systems            []*systemState
	index              map[string]*systemState
	autoValidate       bool
	lastFullValidation *time.Time
}

// run is one in-flight ValidateSystem call.
type run struct {
	sessionID string
	board     *board
	sys       *systemState
	gen       uint64
	target    domain.ExtractedSystem
	methods   []domain.ValidationMethod

	ctx       context.Context
	cancel    context.CancelFunc
	stopAfter func() bool
}

// Engine owns the validation boards of all sessions.
// Board state is mutated only under mu; probes run outside it.
type Engine struct {
	prober  Prober
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.Mutex
	boards    map[string]*board
	observers []DiscrepancyObserver
	stopped   bool
}

// NewEngine creates a new validation engine.
func NewEngine(prober Prober, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.RetryMultiplier < 1 {
		cfg.RetryMultiplier = 1
	}

	var limiter *rate.Limiter
	if cfg.ProbeRate > 0 {
		burst := cfg.ProbeBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), burst)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		prober:    prober,
		cfg:       cfg,
		limiter:   limiter,
		now:       time.Now,
		baseCtx:   baseCtx,
		cancelAll: cancel,
		boards:    make(map[string]*board),
	}
}

// AddObserver registers a discrepancy observer.
func (e *Engine) AddObserver(o DiscrepancyObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Stop cancels all runs and waits for background work to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.cancelAll()
	e.wg.Wait()
}

// InitializeFromSystems creates the board of a session from its system inventory.
// A board that already tracks systems is left untouched and false is returned.
func (e *Engine) InitializeFromSystems(ctx context.Context, sessionID string, systems []domain.ExtractedSystem) (bool, error) {
	for _, s := range systems {
		if !s.Criticality.IsValid() {
			return false, fmt.Errorf("%w: system %s has criticality %q", ErrInvalidCriticality, s.ID, s.Criticality)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.boards[sessionID]
	if ok && len(b.systems) > 0 {
		return false, nil
	}
	if !ok {
		b = &board{index: make(map[string]*systemState)}
		e.boards[sessionID] = b
	}

	for _, s := range systems {
		if _, dup := b.index[s.ID]; dup {
			continue
		}
		ip := s.IPAddress
		if ip == "" {
			ip = "N/A"
		}
		st := &systemState{
			validation: domain.SystemValidation{
				SystemID:      s.ID,
				Hostname:      s.Hostname,
				DocumentedIP:  ip,
				Role:          s.Role,
				Criticality:   s.Criticality,
				Methods:       domain.DefaultMethods(s.Criticality),
				Results:       []domain.ValidationResult{},
				OverallStatus: domain.OverallStatusPending,
			},
		}
		b.systems = append(b.systems, st)
		b.index[s.ID] = st
	}

	ctxlog.FromContext(ctx).Info("validation board initialized",
		"session_id", sessionID,
		"systems", len(b.systems),
	)
	return len(b.systems) > 0, nil
}

// SetAutoValidate stores the auto-validate preference. Turning it on starts a background
// validation of all systems; the call does not wait for it.
func (e *Engine) SetAutoValidate(ctx context.Context, sessionID string, enabled bool) error {
	e.mu.Lock()
	b, ok := e.boards[sessionID]
	if !ok {
		e.mu.Unlock()
		return ErrBoardNotFound
	}
	previous := b.autoValidate
	b.autoValidate = enabled
	e.mu.Unlock()

	if enabled && !previous {
		return e.goAsync(ctx, func(ctx context.Context) error {
			return e.ValidateAllSystems(ctx, sessionID)
		})
	}
	return nil
}

// ValidateSystem runs methods against one system in order, defaulting to all of its assigned methods.
// It blocks until the run completes or ctx is done.
func (e *Engine) ValidateSystem(ctx context.Context, sessionID, systemID string, methods ...domain.ValidationMethod) error {
	r, err := e.prepare(ctx, sessionID, systemID, methods)
	if err != nil {
		return err
	}
	return e.execute(r)
}

// StartValidateSystem validates one system in the background.
// Lookup errors are returned synchronously.
func (e *Engine) StartValidateSystem(ctx context.Context, sessionID, systemID string, methods ...domain.ValidationMethod) error {
	if err := e.track(); err != nil {
		return err
	}

	r, err := e.prepare(context.WithoutCancel(ctx), sessionID, systemID, methods)
	if err != nil {
		e.wg.Done()
		return err
	}

	go func() {
		defer e.wg.Done()
		if err := e.execute(r); err != nil && !errors.Is(err, context.Canceled) {
			ctxlog.FromContext(r.ctx).Warn("background validation failed", "system_id", systemID, "error", err)
		}
	}()
	return nil
}

// ValidateAllSystems validates every system of the session with bounded concurrency.
func (e *Engine) ValidateAllSystems(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	b, ok := e.boards[sessionID]
	if !ok {
		e.mu.Unlock()
		return ErrBoardNotFound
	}
	ids := make([]string, 0, len(b.systems))
	for _, s := range b.systems {
		ids = append(ids, s.validation.SystemID)
	}
	e.mu.Unlock()

	skipped, err := e.runEach(ctx, sessionID, ids, nil)
	if err != nil {
		return err
	}

	// A pass that skipped a system did not cover the whole board.
	e.mu.Lock()
	if e.boards[sessionID] == b && skipped == 0 {
		now := e.now()
		b.lastFullValidation = &now
	}
	e.mu.Unlock()
	return nil
}

// StartValidateAllSystems validates every system in the background.
func (e *Engine) StartValidateAllSystems(ctx context.Context, sessionID string) error {
	if !e.hasBoard(sessionID) {
		return ErrBoardNotFound
	}
	return e.goAsync(ctx, func(ctx context.Context) error {
		return e.ValidateAllSystems(ctx, sessionID)
	})
}

// RevalidateFailed re-runs, for every failed or inconclusive system, the methods whose
// latest result was failed or inconclusive. It returns the number of systems re-run.
func (e *Engine) RevalidateFailed(ctx context.Context, sessionID string) (int, error) {
	e.mu.Lock()
	b, ok := e.boards[sessionID]
	if !ok {
		e.mu.Unlock()
		return 0, ErrBoardNotFound
	}

	var ids []string
	methods := make(map[string][]domain.ValidationMethod)
	for _, s := range b.systems {
		status := s.validation.OverallStatus
		if s.running || (status != domain.OverallStatusFailed && status != domain.OverallStatusInconclusive) {
			continue
		}
		var rerun []domain.ValidationMethod
		for _, m := range s.validation.Methods {
			res, ok := s.validation.LatestResult(m)
			if ok && (res.Status == domain.ResultStatusFailed || res.Status == domain.ResultStatusInconclusive) {
				rerun = append(rerun, m)
			}
		}
		if len(rerun) > 0 {
			ids = append(ids, s.validation.SystemID)
			methods[s.validation.SystemID] = rerun
		}
	}
	e.mu.Unlock()

	skipped, err := e.runEach(ctx, sessionID, ids, methods)
	return len(ids) - skipped, err
}

// StartRevalidateFailed re-runs failed methods in the background.
func (e *Engine) StartRevalidateFailed(ctx context.Context, sessionID string) error {
	if !e.hasBoard(sessionID) {
		return ErrBoardNotFound
	}
	return e.goAsync(ctx, func(ctx context.Context) error {
		_, err := e.RevalidateFailed(ctx, sessionID)
		return err
	})
}

// ClearValidation cancels any run of the system and drops its results and discrepancies.
func (e *Engine) ClearValidation(ctx context.Context, sessionID, systemID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.boards[sessionID]
	if !ok {
		return ErrBoardNotFound
	}
	s, ok := b.index[systemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSystemNotFound, systemID)
	}

	s.abandon()
	s.validation.Results = []domain.ValidationResult{}
	s.validation.OverallStatus = domain.OverallStatusPending
	s.validation.LastChecked = nil
	s.discrepancies = nil

	ctxlog.FromContext(ctx).Info("system validation cleared", "session_id", sessionID, "system_id", systemID)
	return nil
}

// ResetValidation cancels all runs of the session and drops its board.
func (e *Engine) ResetValidation(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dropBoard(sessionID) {
		return ErrBoardNotFound
	}
	ctxlog.FromContext(ctx).Info("validation board reset", "session_id", sessionID)
	return nil
}

// OnSessionDeleted drops the board of a deleted session.
func (e *Engine) OnSessionDeleted(ctx context.Context, sessionID string) {
	e.ForgetSession(ctx, sessionID)
}

// ForgetSession drops the board of a session if there is one.
func (e *Engine) ForgetSession(ctx context.Context, sessionID string) {
	e.mu.Lock()
	dropped := e.dropBoard(sessionID)
	e.mu.Unlock()

	if dropped {
		ctxlog.FromContext(ctx).Debug("validation board dropped", "session_id", sessionID)
	}
}

// Board returns a snapshot of the session's validation state.
func (e *Engine) Board(sessionID string) (Board, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.boards[sessionID]
	if !ok {
		return Board{}, ErrBoardNotFound
	}

	out := Board{
		SessionID:     sessionID,
		Systems:       make([]domain.SystemValidation, 0, len(b.systems)),
		Discrepancies: []domain.Discrepancy{},
		AutoValidate:  b.autoValidate,
	}
	if b.lastFullValidation != nil {
		t := *b.lastFullValidation
		out.LastFullValidation = &t
	}

	for _, s := range b.systems {
		out.Systems = append(out.Systems, s.validation.Clone())
		out.Discrepancies = append(out.Discrepancies, s.discrepancies...)
		out.Summary.add(s)
	}
	return out, nil
}

// Discrepancies returns the discrepancies of the session in system order.
func (e *Engine) Discrepancies(sessionID string) ([]domain.Discrepancy, error) {
	b, err := e.Board(sessionID)
	if err != nil {
		return nil, err
	}
	return b.Discrepancies, nil
}

func (sum *Summary) add(s *systemState) {
	sum.Total++
	if s.running {
		sum.Running++
	}
	switch s.validation.OverallStatus {
	case domain.OverallStatusPending:
		sum.Pending++
	case domain.OverallStatusVerified:
		sum.Verified++
	case domain.OverallStatusFailed:
		sum.Failed++
	case domain.OverallStatusInconclusive:
		sum.Inconclusive++
	default:
		sum.Unknown++
	}
	for _, d := range s.discrepancies {
		if d.Severity == domain.DiscrepancySeverityCritical {
			sum.CriticalDiscrepancies++
		} else {
			sum.WarningDiscrepancies++
		}
	}
}

// abandon invalidates the current run of the system. Must be called with e.mu held.
func (s *systemState) abandon() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.running = false
}

// dropBoard must be called with e.mu held.
func (e *Engine) dropBoard(sessionID string) bool {
	b, ok := e.boards[sessionID]
	if !ok {
		return false
	}
	for _, s := range b.systems {
		s.abandon()
	}
	delete(e.boards, sessionID)
	return true
}

func (e *Engine) hasBoard(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.boards[sessionID]
	return ok
}

// track registers background work. The caller must call e.wg.Done when it finishes.
func (e *Engine) track() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	e.wg.Add(1)
	return nil
}

// goAsync runs fn in the background, detached from the caller's cancellation but not from Stop.
func (e *Engine) goAsync(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.track(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer e.wg.Done()
		defer cancel()
		stop := context.AfterFunc(e.baseCtx, cancel)
		defer stop()

		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			ctxlog.FromContext(ctx).Warn("background validation failed", "error", err)
		}
	}()
	return nil
}

// runEach validates systems with bounded concurrency and returns how many were skipped.
// Systems that are already running, were removed, or whose own run was cancelled while ctx
// is still live are skipped. A failing system never cancels its siblings.
func (e *Engine) runEach(ctx context.Context, sessionID string, ids []string, methods map[string][]domain.ValidationMethod) (int, error) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	var skipped atomic.Int64
	for _, id := range ids {
		g.Go(func() error {
			err := e.ValidateSystem(ctx, sessionID, id, methods[id]...)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrValidationInProgress),
				errors.Is(err, ErrSystemNotFound),
				errors.Is(err, context.Canceled) && ctx.Err() == nil:
				skipped.Add(1)
				ctxlog.FromContext(ctx).Debug("skipping system", "system_id", id, "reason", err)
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return int(skipped.Load()), err
}

func (e *Engine) prepare(ctx context.Context, sessionID, systemID string, methods []domain.ValidationMethod) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, ErrEngineStopped
	}
	b, ok := e.boards[sessionID]
	if !ok {
		return nil, ErrBoardNotFound
	}
	s, ok := b.index[systemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSystemNotFound, systemID)
	}
	if s.running {
		return nil, fmt.Errorf("%w: %s", ErrValidationInProgress, systemID)
	}

	selected, err := selectMethods(s.validation.Methods, methods)
	if err != nil {
		return nil, err
	}
	full := len(selected) == len(s.validation.Methods)

	// Results of methods not being re-run are kept; re-run methods get a pending placeholder
	// that is replaced once the probe answers.
	now := e.now()
	results := make([]domain.ValidationResult, 0, len(s.validation.Results)+len(selected))
	for _, res := range s.validation.Results {
		if !slices.Contains(selected, res.Method) {
			results = append(results, res)
		}
	}
	for _, m := range selected {
		results = append(results, domain.ValidationResult{
			Method:    m,
			Status:    domain.ResultStatusPending,
			Timestamp: now,
			Message:   "queued",
		})
	}
	s.validation.Results = results
	s.validation.OverallStatus = domain.OverallStatusPending

	if full {
		s.discrepancies = nil
	} else {
		s.discrepancies = slices.DeleteFunc(s.discrepancies, func(d domain.Discrepancy) bool {
			return slices.Contains(selected, d.Method)
		})
	}

	s.generation++
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	recordRunStarted()

	return &run{
		sessionID: sessionID,
		board:     b,
		sys:       s,
		gen:       s.generation,
		target: domain.ExtractedSystem{
			ID:          s.validation.SystemID,
			Hostname:    s.validation.Hostname,
			IPAddress:   s.validation.DocumentedIP,
			Role:        s.validation.Role,
			Criticality: s.validation.Criticality,
		},
		methods:   selected,
		ctx:       runCtx,
		cancel:    cancel,
		stopAfter: context.AfterFunc(e.baseCtx, cancel),
	}, nil
}

// selectMethods validates requested methods against the assigned ones, keeping assigned order.
func selectMethods(assigned, requested []domain.ValidationMethod) ([]domain.ValidationMethod, error) {
	if len(requested) == 0 {
		return slices.Clone(assigned), nil
	}
	for _, m := range requested {
		if !slices.Contains(assigned, m) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
		}
	}
	selected := make([]domain.ValidationMethod, 0, len(requested))
	for _, m := range assigned {
		if slices.Contains(requested, m) {
			selected = append(selected, m)
		}
	}
	return selected, nil
}

func (e *Engine) execute(r *run) error {
	logger := ctxlog.FromContext(r.ctx).With("session_id", r.sessionID, "system_id", r.target.ID)
	outcome := "completed"
	defer func() {
		e.finish(r)
		recordRunFinished(outcome)
	}()

	for _, m := range r.methods {
		if err := r.ctx.Err(); err != nil {
			outcome = "cancelled"
			return e.abort(r, err)
		}

		start := time.Now()
		res, probeErr := e.probe(r.ctx, r.target, m)
		if err := r.ctx.Err(); err != nil {
			outcome = "cancelled"
			return e.abort(r, err)
		}

		result, disc, ok := e.record(r, m, res, probeErr)
		recordProbe(string(m), string(result.Status), time.Since(start))
		if !ok {
			outcome = "cancelled"
			return fmt.Errorf("validate system %s: %w", r.target.ID, context.Canceled)
		}
		if probeErr != nil {
			logger.Warn("probe inconclusive", "method", m, "error", probeErr)
		}
		if disc != nil {
			e.notify(r.ctx, r.sessionID, *disc)
		}
	}

	e.complete(r)
	logger.Debug("system validated")
	return nil
}

// current reports whether r may still write. Must be called with e.mu held.
func (e *Engine) current(r *run) bool {
	return e.boards[r.sessionID] == r.board && r.sys.generation == r.gen
}

func (e *Engine) record(r *run, m domain.ValidationMethod, outcome ProbeOutcome, probeErr error) (domain.ValidationResult, *domain.Discrepancy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	result := domain.ValidationResult{Method: m, Timestamp: now}
	switch {
	case probeErr != nil:
		result.Status = domain.ResultStatusInconclusive
		result.Message = "probe did not answer: " + probeErr.Error()
		result.Details = map[string]any{"error": probeErr.Error()}
	case outcome.Success:
		result.Status = domain.ResultStatusSuccess
		result.Message = outcome.Message
		result.Details = outcome.Details
	default:
		result.Status = domain.ResultStatusFailed
		result.Message = outcome.Message
		result.Details = outcome.Details
	}

	if !e.current(r) {
		return result, nil, false
	}

	s := r.sys
	replaced := false
	for i, res := range s.validation.Results {
		if res.Method == m && res.Status == domain.ResultStatusPending {
			s.validation.Results[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		s.validation.Results = append(s.validation.Results, result)
	}

	var disc *domain.Discrepancy
	if result.Status == domain.ResultStatusFailed {
		d := domain.Discrepancy{
			ID:            uuid.New().String(),
			SystemID:      s.validation.SystemID,
			Hostname:      s.validation.Hostname,
			Method:        m,
			Category:      m.Category(),
			Severity:      m.Severity(),
			Description:   outcome.Message,
			DocumentedVal: detailString(outcome.Details, "expected", s.validation.DocumentedIP),
			ActualVal:     detailString(outcome.Details, "actual", "unknown"),
			DetectedAt:    now,
		}
		s.discrepancies = append(s.discrepancies, d)
		recordDiscrepancy(string(d.Category), string(d.Severity))
		disc = &d
	}

	e.recompute(r.ctx, s)
	return result, disc, true
}

func (e *Engine) abort(r *run, cause error) error {
	e.mu.Lock()
	if e.current(r) {
		// Placeholders of unfinished methods stay pending.
		r.sys.validation.OverallStatus = domain.OverallStatusPending
	}
	e.mu.Unlock()
	return fmt.Errorf("validate system %s: %w", r.target.ID, cause)
}

func (e *Engine) complete(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.current(r) {
		return
	}
	now := e.now()
	r.sys.validation.LastChecked = &now
	e.recompute(r.ctx, r.sys)
}

func (e *Engine) finish(r *run) {
	e.mu.Lock()
	if r.sys.generation == r.gen {
		r.sys.running = false
		r.sys.cancel = nil
	}
	e.mu.Unlock()

	r.stopAfter()
	r.cancel()
}

// recompute must be called with e.mu held.
func (e *Engine) recompute(ctx context.Context, s *systemState) {
	status := Aggregate(s.validation.Results)
	if status == domain.OverallStatusUnknown {
		recordAggregationAnomaly()
		ctxlog.FromContext(ctx).Error("validation results aggregate to unknown status",
			"system_id", s.validation.SystemID,
			"results", len(s.validation.Results),
		)
	}
	s.validation.OverallStatus = status
}

func (e *Engine) notify(ctx context.Context, sessionID string, d domain.Discrepancy) {
	e.mu.Lock()
	observers := e.observers
	e.mu.Unlock()

	for _, o := range observers {
		o.OnDiscrepancy(ctx, sessionID, d)
	}
}

func detailString(details map[string]any, key, fallback string) string {
	if v, ok := details[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return fallback
}
