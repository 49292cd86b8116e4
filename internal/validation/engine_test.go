package validation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProber struct {
	mu      sync.Mutex
	fail    map[string]bool
	errs    map[string]int
	calls   []string
	block   bool
	started chan string
}

func newTestProber() *testProber {
	return &testProber{
		fail:    make(map[string]bool),
		errs:    make(map[string]int),
		started: make(chan string, 64),
	}
}

func probeKey(systemID string, m domain.ValidationMethod) string {
	return systemID + "/" + string(m)
}

func (p *testProber) setFail(systemID string, m domain.ValidationMethod, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[probeKey(systemID, m)] = fail
}

func (p *testProber) setBlock(block bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = block
}

func (p *testProber) callCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (p *testProber) Probe(ctx context.Context, system domain.ExtractedSystem, m domain.ValidationMethod) (ProbeOutcome, error) {
	k := probeKey(system.ID, m)

	p.mu.Lock()
	p.calls = append(p.calls, k)
	block := p.block
	fail := p.fail[k]
	errLeft := p.errs[k]
	if errLeft > 0 {
		p.errs[k] = errLeft - 1
	}
	p.mu.Unlock()

	if block {
		p.started <- k
		<-ctx.Done()
		return ProbeOutcome{}, ctx.Err()
	}
	if errLeft > 0 {
		return ProbeOutcome{}, errors.New("connection refused")
	}
	if fail {
		return ProbeOutcome{
			Success: false,
			Message: string(m) + " mismatch",
			Details: map[string]any{"expected": "documented", "actual": "observed"},
		}, nil
	}
	return ProbeOutcome{Success: true, Message: string(m) + " ok"}, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	items []domain.Discrepancy
}

func (r *recordingObserver) OnDiscrepancy(_ context.Context, _ string, d domain.Discrepancy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
}

func testConfig() Config {
	return Config{
		Concurrency:         4,
		ProbeTimeout:        time.Second,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     5 * time.Millisecond,
		RetryMultiplier:     2,
	}
}

func newTestEngine(t *testing.T, p Prober, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(p, cfg)
	t.Cleanup(e.Stop)
	return e
}

var testSystems = []domain.ExtractedSystem{
	{ID: "dc01", Hostname: "DC01.corp.local", IPAddress: "10.0.0.10", Role: "Domain Controller", Criticality: domain.CriticalityCritical},
	{ID: "app01", Hostname: "APP01.corp.local", IPAddress: "10.0.1.20", Role: "App Server", Criticality: domain.CriticalityHigh},
	{ID: "ws01", Hostname: "WS01.corp.local", Role: "Workstation", Criticality: domain.CriticalityLow},
}

func mustInit(t *testing.T, e *Engine, sessionID string) {
	t.Helper()
	created, err := e.InitializeFromSystems(context.Background(), sessionID, testSystems)
	require.NoError(t, err)
	require.True(t, created)
}

func systemByID(t *testing.T, b Board, id string) domain.SystemValidation {
	t.Helper()
	for _, s := range b.Systems {
		if s.SystemID == id {
			return s
		}
	}
	t.Fatalf("system %s not on board", id)
	return domain.SystemValidation{}
}

func TestEngine_InitializeFromSystems(t *testing.T) {
	e := newTestEngine(t, newTestProber(), testConfig())
	ctx := context.Background()
	mustInit(t, e, "s1")

	b, err := e.Board("s1")
	require.NoError(t, err)
	require.Len(t, b.Systems, 3)

	for i, sys := range testSystems {
		v := b.Systems[i]
		assert.Equal(t, sys.ID, v.SystemID)
		assert.Equal(t, domain.DefaultMethods(sys.Criticality), v.Methods)
		assert.Equal(t, domain.OverallStatusPending, v.OverallStatus)
		assert.Empty(t, v.Results)
	}
	assert.Len(t, b.Systems[0].Methods, 6, "critical gets all methods")
	assert.Equal(t, []domain.ValidationMethod{domain.MethodPing, domain.MethodDNS}, b.Systems[2].Methods)
	assert.Equal(t, "N/A", b.Systems[2].DocumentedIP)
	assert.Equal(t, 3, b.Summary.Total)
	assert.Equal(t, 3, b.Summary.Pending)

	created, err := e.InitializeFromSystems(ctx, "s1", testSystems[:1])
	require.NoError(t, err)
	assert.False(t, created, "second initialization is a no-op")

	again, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestEngine_InitializeFromSystems_InvalidCriticality(t *testing.T) {
	e := newTestEngine(t, newTestProber(), testConfig())

	_, err := e.InitializeFromSystems(context.Background(), "s1", []domain.ExtractedSystem{
		{ID: "a", Criticality: domain.CriticalityLow},
		{ID: "b", Criticality: "extreme"},
	})
	assert.ErrorIs(t, err, ErrInvalidCriticality)

	_, err = e.Board("s1")
	assert.ErrorIs(t, err, ErrBoardNotFound, "nothing created")
}

func TestEngine_ValidateSystem_OrderAndAggregation(t *testing.T) {
	var e *Engine
	var mu sync.Mutex
	var seen []domain.ValidationMethod

	prober := ProberFunc(func(_ context.Context, system domain.ExtractedSystem, m domain.ValidationMethod) (ProbeOutcome, error) {
		b, err := e.Board("s1")
		require.NoError(t, err)
		v := systemByID(t, b, system.ID)
		assert.Equal(t, domain.OverallStatusPending, v.OverallStatus, "pending while the run is in flight")

		mu.Lock()
		defer mu.Unlock()
		for _, prev := range seen {
			res, ok := v.LatestResult(prev)
			require.True(t, ok)
			assert.NotEqual(t, domain.ResultStatusPending, res.Status, "earlier methods are recorded first")
		}
		seen = append(seen, m)
		return ProbeOutcome{Success: m != domain.MethodSPN, Message: "checked"}, nil
	})

	e = newTestEngine(t, prober, testConfig())
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "dc01"))

	assert.Equal(t, domain.DefaultMethods(domain.CriticalityCritical), seen)

	b, err := e.Board("s1")
	require.NoError(t, err)
	v := systemByID(t, b, "dc01")
	assert.Equal(t, domain.OverallStatusFailed, v.OverallStatus)
	assert.NotNil(t, v.LastChecked)
	assert.Len(t, v.Results, 6)

	require.Len(t, b.Discrepancies, 1)
	d := b.Discrepancies[0]
	assert.Equal(t, domain.MethodSPN, d.Method)
	assert.Equal(t, domain.CategoryMissingSPN, d.Category)
	assert.Equal(t, domain.DiscrepancySeverityWarning, d.Severity)
	assert.Equal(t, "DC01.corp.local", d.Hostname)
	assert.Equal(t, 1, b.Summary.Failed)
	assert.Equal(t, 1, b.Summary.WarningDiscrepancies)
}

func TestEngine_DiscrepancyReplacement(t *testing.T) {
	p := newTestProber()
	p.setFail("dc01", domain.MethodADLookup, true)
	p.setFail("dc01", domain.MethodPing, true)
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	for range 3 {
		require.NoError(t, e.ValidateSystem(ctx, "s1", "dc01"))
	}

	list, err := e.Discrepancies("s1")
	require.NoError(t, err)
	require.Len(t, list, 2, "one discrepancy per failing method, never accumulated")

	byMethod := map[domain.ValidationMethod]domain.Discrepancy{}
	for _, d := range list {
		byMethod[d.Method] = d
	}
	assert.Equal(t, domain.DiscrepancySeverityCritical, byMethod[domain.MethodADLookup].Severity)
	assert.Equal(t, domain.CategoryNotInAD, byMethod[domain.MethodADLookup].Category)
	assert.Equal(t, "documented", byMethod[domain.MethodPing].DocumentedVal)
	assert.Equal(t, "observed", byMethod[domain.MethodPing].ActualVal)

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Len(t, systemByID(t, b, "dc01").Results, 6, "results are replaced on re-run")
}

func TestEngine_PartialRerunKeepsOtherResults(t *testing.T) {
	p := newTestProber()
	p.setFail("app01", domain.MethodPing, true)
	p.setFail("app01", domain.MethodPortScan, true)
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NoError(t, e.ValidateSystem(ctx, "s1", "app01"))

	p.setFail("app01", domain.MethodPing, false)
	require.NoError(t, e.ValidateSystem(ctx, "s1", "app01", domain.MethodPing))

	b, err := e.Board("s1")
	require.NoError(t, err)
	v := systemByID(t, b, "app01")
	require.Len(t, v.Results, 4)

	ping, _ := v.LatestResult(domain.MethodPing)
	dns, _ := v.LatestResult(domain.MethodDNS)
	scan, _ := v.LatestResult(domain.MethodPortScan)
	assert.Equal(t, domain.ResultStatusSuccess, ping.Status)
	assert.Equal(t, domain.ResultStatusSuccess, dns.Status)
	assert.Equal(t, domain.ResultStatusFailed, scan.Status, "not re-run, still failed")
	assert.Equal(t, domain.OverallStatusFailed, v.OverallStatus)

	require.Len(t, b.Discrepancies, 1, "discrepancy of the re-run method is cleared")
	assert.Equal(t, domain.MethodPortScan, b.Discrepancies[0].Method)
}

func TestEngine_ValidateSystem_Errors(t *testing.T) {
	p := newTestProber()
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	assert.ErrorIs(t, e.ValidateSystem(ctx, "missing", "dc01"), ErrBoardNotFound)
	assert.ErrorIs(t, e.ValidateSystem(ctx, "s1", "missing"), ErrSystemNotFound)
	assert.ErrorIs(t, e.ValidateSystem(ctx, "s1", "ws01", domain.MethodSPN), ErrUnknownMethod, "not assigned to a low system")
	assert.ErrorIs(t, e.ValidateSystem(ctx, "s1", "ws01", "traceroute"), ErrUnknownMethod)
	assert.ErrorIs(t, e.ClearValidation(ctx, "s1", "missing"), ErrSystemNotFound)
	assert.ErrorIs(t, e.ClearValidation(ctx, "missing", "dc01"), ErrBoardNotFound)
	assert.ErrorIs(t, e.ResetValidation(ctx, "missing"), ErrBoardNotFound)
	assert.ErrorIs(t, e.SetAutoValidate(ctx, "missing", true), ErrBoardNotFound)
	assert.ErrorIs(t, e.ValidateAllSystems(ctx, "missing"), ErrBoardNotFound)
	_, err := e.RevalidateFailed(ctx, "missing")
	assert.ErrorIs(t, err, ErrBoardNotFound)

	p.setBlock(true)
	require.NoError(t, e.StartValidateSystem(ctx, "s1", "ws01"))
	<-p.started

	assert.ErrorIs(t, e.ValidateSystem(ctx, "s1", "ws01"), ErrValidationInProgress)

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Summary.Running)
}

func TestEngine_CancelledRunLeavesPending(t *testing.T) {
	p := newTestProber()
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "ws01"))
	b, err := e.Board("s1")
	require.NoError(t, err)
	require.Equal(t, domain.OverallStatusVerified, systemByID(t, b, "ws01").OverallStatus)

	p.setBlock(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.ValidateSystem(ctx, "s1", "ws01") }()

	<-p.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	b, err = e.Board("s1")
	require.NoError(t, err)
	v := systemByID(t, b, "ws01")
	assert.Equal(t, domain.OverallStatusPending, v.OverallStatus, "never a stale verdict")
	assert.Equal(t, 0, b.Summary.Running)

	p.setBlock(false)
	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "ws01"), "system can be re-run")
}

func TestEngine_ClearDuringRun(t *testing.T) {
	p := newTestProber()
	p.setFail("ws01", domain.MethodPing, true)
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NoError(t, e.ValidateSystem(ctx, "s1", "ws01"))

	p.setBlock(true)
	require.NoError(t, e.StartValidateSystem(ctx, "s1", "ws01"))
	<-p.started

	require.NoError(t, e.ClearValidation(ctx, "s1", "ws01"))

	assert.Eventually(t, func() bool {
		b, err := e.Board("s1")
		return err == nil && b.Summary.Running == 0
	}, 5*time.Second, 10*time.Millisecond)

	b, err := e.Board("s1")
	require.NoError(t, err)
	v := systemByID(t, b, "ws01")
	assert.Empty(t, v.Results)
	assert.Nil(t, v.LastChecked)
	assert.Equal(t, domain.OverallStatusPending, v.OverallStatus)
	assert.Empty(t, b.Discrepancies)
}

// blockingSystemProber blocks every probe of one system until its context ends and
// answers the other systems successfully after a short delay.
func blockingSystemProber(systemID string, blocking *atomic.Bool, started chan<- string) ProberFunc {
	return func(ctx context.Context, system domain.ExtractedSystem, m domain.ValidationMethod) (ProbeOutcome, error) {
		if system.ID == systemID && blocking.Load() {
			started <- probeKey(system.ID, m)
			<-ctx.Done()
			return ProbeOutcome{}, ctx.Err()
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return ProbeOutcome{}, ctx.Err()
		}
		return ProbeOutcome{Success: true, Message: string(m) + " ok"}, nil
	}
}

func TestEngine_ClearOneSystemDuringFullRun(t *testing.T) {
	var blocking atomic.Bool
	blocking.Store(true)
	started := make(chan string, 16)
	e := newTestEngine(t, blockingSystemProber("ws01", &blocking, started), testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- e.ValidateAllSystems(ctx, "s1") }()

	<-started
	require.NoError(t, e.ClearValidation(ctx, "s1", "ws01"))

	select {
	case err := <-done:
		require.NoError(t, err, "clearing one system does not fail the pass")
	case <-time.After(5 * time.Second):
		t.Fatal("full run did not finish")
	}

	b, err := e.Board("s1")
	require.NoError(t, err)
	dc := systemByID(t, b, "dc01")
	assert.Equal(t, domain.OverallStatusVerified, dc.OverallStatus)
	assert.Len(t, dc.Results, 6)
	app := systemByID(t, b, "app01")
	assert.Equal(t, domain.OverallStatusVerified, app.OverallStatus)
	assert.Len(t, app.Results, 4)

	ws := systemByID(t, b, "ws01")
	assert.Equal(t, domain.OverallStatusPending, ws.OverallStatus)
	assert.Empty(t, ws.Results)
	assert.Equal(t, 0, b.Summary.Running)
	assert.Nil(t, b.LastFullValidation, "a pass that skipped a system is not a full validation")

	blocking.Store(false)
	require.NoError(t, e.ValidateAllSystems(ctx, "s1"))
	b, err = e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Summary.Verified)
	assert.NotNil(t, b.LastFullValidation)
}

func TestEngine_FullRunSkipsSystemInProgress(t *testing.T) {
	var blocking atomic.Bool
	blocking.Store(true)
	started := make(chan string, 16)
	e := newTestEngine(t, blockingSystemProber("ws01", &blocking, started), testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NoError(t, e.StartValidateSystem(ctx, "s1", "ws01"))
	<-started

	require.NoError(t, e.ValidateAllSystems(ctx, "s1"))

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Summary.Verified)
	assert.Equal(t, 1, b.Summary.Running)
	assert.Nil(t, b.LastFullValidation)
}

func TestEngine_PanickingProberIsInconclusive(t *testing.T) {
	p := ProberFunc(func(_ context.Context, _ domain.ExtractedSystem, m domain.ValidationMethod) (ProbeOutcome, error) {
		if m == domain.MethodPing {
			panic("prober exploded")
		}
		return ProbeOutcome{Success: true, Message: string(m) + " ok"}, nil
	})
	cfg := testConfig()
	cfg.ProbeRetries = 1
	e := newTestEngine(t, p, cfg)
	obs := &recordingObserver{}
	e.AddObserver(obs)
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NotPanics(t, func() {
		require.NoError(t, e.ValidateSystem(ctx, "s1", "ws01"))
	})

	b, err := e.Board("s1")
	require.NoError(t, err)
	ws := systemByID(t, b, "ws01")
	assert.Equal(t, domain.OverallStatusInconclusive, ws.OverallStatus)
	ping, ok := ws.LatestResult(domain.MethodPing)
	require.True(t, ok)
	assert.Equal(t, domain.ResultStatusInconclusive, ping.Status)
	assert.Contains(t, ping.Message, "prober panicked")
	assert.Empty(t, b.Discrepancies)
	assert.Empty(t, obs.items)

	// background runs survive as well
	require.NoError(t, e.StartValidateSystem(ctx, "s1", "app01"))
	assert.Eventually(t, func() bool {
		b, err := e.Board("s1")
		return err == nil && b.Summary.Running == 0 &&
			systemByID(t, b, "app01").OverallStatus == domain.OverallStatusInconclusive
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_SessionIsolation(t *testing.T) {
	p := newTestProber()
	p.setFail("ws01", domain.MethodDNS, true)
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	mustInit(t, e, "s2")

	require.NoError(t, e.ValidateAllSystems(context.Background(), "s1"))

	b1, err := e.Board("s1")
	require.NoError(t, err)
	b2, err := e.Board("s2")
	require.NoError(t, err)

	assert.Len(t, b1.Discrepancies, 1)
	assert.NotNil(t, b1.LastFullValidation)
	assert.Empty(t, b2.Discrepancies)
	assert.Nil(t, b2.LastFullValidation)
	assert.Equal(t, 3, b2.Summary.Pending)

	e.ForgetSession(context.Background(), "s1")
	_, err = e.Board("s1")
	assert.ErrorIs(t, err, ErrBoardNotFound)
	_, err = e.Board("s2")
	assert.NoError(t, err)
}

func TestEngine_ProbeErrorIsInconclusive(t *testing.T) {
	p := newTestProber()
	p.errs[probeKey("ws01", domain.MethodPing)] = 10
	cfg := testConfig()
	cfg.ProbeRetries = 2
	e := newTestEngine(t, p, cfg)
	obs := &recordingObserver{}
	e.AddObserver(obs)
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "ws01"))

	b, err := e.Board("s1")
	require.NoError(t, err)
	v := systemByID(t, b, "ws01")
	ping, _ := v.LatestResult(domain.MethodPing)
	assert.Equal(t, domain.ResultStatusInconclusive, ping.Status)
	assert.Contains(t, ping.Message, "connection refused")
	assert.Equal(t, domain.OverallStatusInconclusive, v.OverallStatus)
	assert.Empty(t, b.Discrepancies, "transport errors are not discrepancies")
	assert.Empty(t, obs.items)
	assert.Equal(t, 3, p.callCount(probeKey("ws01", domain.MethodPing)), "initial attempt plus retries")
}

func TestEngine_ProbeRetryRecovers(t *testing.T) {
	p := newTestProber()
	p.errs[probeKey("ws01", domain.MethodDNS)] = 1
	cfg := testConfig()
	cfg.ProbeRetries = 1
	e := newTestEngine(t, p, cfg)
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "ws01"))

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallStatusVerified, systemByID(t, b, "ws01").OverallStatus)
}

func TestEngine_ProbeTimeout(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context, _ domain.ExtractedSystem, _ domain.ValidationMethod) (ProbeOutcome, error) {
		<-ctx.Done()
		return ProbeOutcome{}, ctx.Err()
	})
	cfg := testConfig()
	cfg.ProbeTimeout = 20 * time.Millisecond
	e := newTestEngine(t, prober, cfg)
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "ws01"))

	b, err := e.Board("s1")
	require.NoError(t, err)
	v := systemByID(t, b, "ws01")
	assert.Equal(t, domain.OverallStatusInconclusive, v.OverallStatus)
	assert.Empty(t, b.Discrepancies)
}

func TestEngine_RevalidateFailed(t *testing.T) {
	p := newTestProber()
	p.setFail("app01", domain.MethodPing, true)
	p.errs[probeKey("ws01", domain.MethodDNS)] = 1
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NoError(t, e.ValidateAllSystems(ctx, "s1"))

	p.setFail("app01", domain.MethodPing, false)
	n, err := e.RevalidateFailed(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed and inconclusive systems")

	assert.Equal(t, 2, p.callCount(probeKey("app01", domain.MethodPing)))
	assert.Equal(t, 1, p.callCount(probeKey("app01", domain.MethodDNS)), "passing methods are not re-run")
	assert.Equal(t, 1, p.callCount(probeKey("dc01", domain.MethodPing)), "verified systems are not re-run")

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Summary.Verified)
	assert.Empty(t, b.Discrepancies)
}

func TestEngine_AutoValidate(t *testing.T) {
	p := newTestProber()
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NoError(t, e.SetAutoValidate(ctx, "s1", true))

	assert.Eventually(t, func() bool {
		b, err := e.Board("s1")
		return err == nil && b.Summary.Verified == 3 && b.LastFullValidation != nil
	}, 5*time.Second, 10*time.Millisecond)

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.True(t, b.AutoValidate)

	require.NoError(t, e.SetAutoValidate(ctx, "s1", true))
	require.NoError(t, e.SetAutoValidate(ctx, "s1", false))
	b, err = e.Board("s1")
	require.NoError(t, err)
	assert.False(t, b.AutoValidate)
}

func TestEngine_ResetValidation(t *testing.T) {
	p := newTestProber()
	e := newTestEngine(t, p, testConfig())
	mustInit(t, e, "s1")
	ctx := context.Background()

	require.NoError(t, e.SetAutoValidate(ctx, "s1", false))
	require.NoError(t, e.ResetValidation(ctx, "s1"))

	_, err := e.Board("s1")
	assert.ErrorIs(t, err, ErrBoardNotFound)

	created, err := e.InitializeFromSystems(ctx, "s1", testSystems)
	require.NoError(t, err)
	assert.True(t, created, "board can be rebuilt after reset")
}

func TestEngine_DiscrepancyObserver(t *testing.T) {
	p := newTestProber()
	p.setFail("dc01", domain.MethodCertCheck, true)
	e := newTestEngine(t, p, testConfig())
	obs := &recordingObserver{}
	e.AddObserver(obs)
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateSystem(context.Background(), "s1", "dc01"))

	require.Len(t, obs.items, 1)
	assert.Equal(t, domain.CategoryCertExpired, obs.items[0].Category)
	assert.Equal(t, domain.DiscrepancySeverityCritical, obs.items[0].Severity)
}

func TestEngine_Stop(t *testing.T) {
	p := newTestProber()
	e := NewEngine(p, testConfig())
	mustInit(t, e, "s1")

	p.setBlock(true)
	require.NoError(t, e.StartValidateAllSystems(context.Background(), "s1"))
	<-p.started

	e.Stop()

	assert.ErrorIs(t, e.StartValidateAllSystems(context.Background(), "s1"), ErrEngineStopped)
	assert.ErrorIs(t, e.ValidateSystem(context.Background(), "s1", "dc01"), ErrEngineStopped)

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.Summary.Running)
	assert.Equal(t, 0, b.Summary.Verified+b.Summary.Failed)
}

func TestEngine_CalculateBackoff(t *testing.T) {
	e := NewEngine(newTestProber(), Config{
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     time.Second,
		RetryMultiplier:     2,
	})
	defer e.Stop()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, e.calculateBackoff(tt.attempt))
	}
}

func TestEngine_RateLimitedProbes(t *testing.T) {
	cfg := testConfig()
	cfg.ProbeRate = 1000
	cfg.ProbeBurst = 1
	e := newTestEngine(t, newTestProber(), cfg)
	require.NotNil(t, e.limiter)
	mustInit(t, e, "s1")

	require.NoError(t, e.ValidateAllSystems(context.Background(), "s1"))

	b, err := e.Board("s1")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Summary.Verified)
}
