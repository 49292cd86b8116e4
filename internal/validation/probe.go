package validation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
)

// ProbeOutcome is the answer of a probe source for one method.
type ProbeOutcome struct {
	Success bool
	Message string
	Details map[string]any
}

// Prober runs one validation method against one system.
// A failed check is reported as an outcome; an error means the probe itself could not answer.
type Prober interface {
	Probe(ctx context.Context, system domain.ExtractedSystem, method domain.ValidationMethod) (ProbeOutcome, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, system domain.ExtractedSystem, method domain.ValidationMethod) (ProbeOutcome, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, system domain.ExtractedSystem, method domain.ValidationMethod) (ProbeOutcome, error) {
	return f(ctx, system, method)
}

// SimulationConfig configures SimulatedProber.
type SimulationConfig struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64
	Seed        uint64
}

// DefaultSimulationConfig returns the default simulation settings.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		MinLatency:  500 * time.Millisecond,
		MaxLatency:  1500 * time.Millisecond,
		SuccessRate: 0.8,
	}
}

// SimulatedProber produces random outcomes after an artificial delay.
type SimulatedProber struct {
	cfg SimulationConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedProber creates a simulated probe source. A zero seed draws a random one.
func NewSimulatedProber(cfg SimulationConfig) *SimulatedProber {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &SimulatedProber{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Probe waits for the simulated latency and returns a random outcome.
func (p *SimulatedProber) Probe(ctx context.Context, system domain.ExtractedSystem, method domain.ValidationMethod) (ProbeOutcome, error) {
	p.mu.Lock()
	latency := p.cfg.MinLatency
	if span := p.cfg.MaxLatency - p.cfg.MinLatency; span > 0 {
		latency += time.Duration(p.rnd.Int64N(int64(span)))
	}
	success := p.rnd.Float64() < p.cfg.SuccessRate
	jitter := p.rnd.IntN(250)
	p.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ProbeOutcome{}, ctx.Err()
		case <-timer.C:
		}
	}

	return simulateOutcome(system, method, success, jitter), nil
}

func simulateOutcome(system domain.ExtractedSystem, method domain.ValidationMethod, success bool, jitter int) ProbeOutcome {
	host := system.Hostname
	ip := system.IPAddress
	if ip == "" {
		ip = "N/A"
	}
	short := strings.ToUpper(strings.SplitN(host, ".", 2)[0])

	var expected, actual any
	var message string

	switch method {
	case domain.MethodPing:
		expected = ip
		if success {
			actual = ip
			message = fmt.Sprintf("Host %s replied in %dms", host, 1+jitter%40)
		} else {
			actual = shiftedAddress(ip, jitter)
			message = fmt.Sprintf("Host %s replied from %v instead of the documented address", host, actual)
		}
	case domain.MethodDNS:
		expected = ip
		if success {
			actual = ip
			message = fmt.Sprintf("A record for %s matches the documented address", host)
		} else {
			actual = shiftedAddress(ip, jitter+7)
			message = fmt.Sprintf("A record for %s resolves to %v", host, actual)
		}
	case domain.MethodADLookup:
		expected = "present"
		if success {
			actual = "present"
			message = fmt.Sprintf("Computer object %s found in directory", short)
		} else {
			actual = "absent"
			message = fmt.Sprintf("No computer object for %s in directory", short)
		}
	case domain.MethodSPN:
		expected = "HOST/" + host
		if success {
			actual = expected
			message = fmt.Sprintf("Service principal names registered for %s", short)
		} else {
			actual = "none"
			message = fmt.Sprintf("No service principal name registered for %s", short)
		}
	case domain.MethodPortScan:
		port := []int{22, 88, 135, 389, 443, 445, 3389}[jitter%7]
		expected = fmt.Sprintf("%d/tcp open", port)
		if success {
			actual = expected
			message = fmt.Sprintf("Expected services listening on %s", host)
		} else {
			actual = fmt.Sprintf("%d/tcp closed", port)
			message = fmt.Sprintf("Expected service port %d/tcp closed on %s", port, host)
		}
	case domain.MethodCertCheck:
		expected = "valid"
		if success {
			actual = "valid"
			message = fmt.Sprintf("Certificate for %s is valid for %d more days", host, 30+jitter)
		} else {
			days := 1 + jitter%90
			actual = fmt.Sprintf("expired %d days ago", days)
			message = fmt.Sprintf("Certificate for %s expired %d days ago", host, days)
		}
	default:
		return ProbeOutcome{Success: success, Message: string(method)}
	}

	return ProbeOutcome{
		Success: success,
		Message: message,
		Details: map[string]any{
			"expected": expected,
			"actual":   actual,
			"host":     host,
		},
	}
}

// shiftedAddress returns a different address in the same /24, or a placeholder for non-IPv4 input.
func shiftedAddress(ip string, n int) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return fmt.Sprintf("10.0.0.%d", 2+n%250)
	}
	b := addr.As4()
	step := 1 + (37+n)%253
	b[3] = byte(1 + (int(b[3])+253+step)%254)
	return netip.AddrFrom4(b).String()
}

// probe calls the prober with a per-call timeout, retrying probe errors with exponential backoff.
// It returns the caller context error as soon as ctx is done.
func (e *Engine) probe(ctx context.Context, system domain.ExtractedSystem, method domain.ValidationMethod) (ProbeOutcome, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.ProbeRetries; attempt++ {
		if attempt > 0 {
			recordProbeRetry(string(method))
			timer := time.NewTimer(e.calculateBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ProbeOutcome{}, ctx.Err()
			case <-timer.C:
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ProbeOutcome{}, ctx.Err()
				}
				return ProbeOutcome{}, fmt.Errorf("rate limit: %w", err)
			}
		}

		outcome, err := e.callProber(ctx, system, method)
		if err == nil {
			return outcome, nil
		}
		if ctx.Err() != nil {
			return ProbeOutcome{}, ctx.Err()
		}
		lastErr = err
	}
	return ProbeOutcome{}, fmt.Errorf("probe %s after %d attempts: %w", method, e.cfg.ProbeRetries+1, lastErr)
}

// callProber bounds one prober call by the probe timeout and turns a panic into an error.
func (e *Engine) callProber(ctx context.Context, system domain.ExtractedSystem, method domain.ValidationMethod) (outcome ProbeOutcome, err error) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			recordProbePanic(string(method))
			outcome, err = ProbeOutcome{}, fmt.Errorf("prober panicked: %v", r)
		}
	}()
	return e.prober.Probe(pctx, system, method)
}

func (e *Engine) calculateBackoff(attempt int) time.Duration {
	backoff := float64(e.cfg.RetryInitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= e.cfg.RetryMultiplier
	}
	if backoff > float64(e.cfg.RetryMaxBackoff) {
		backoff = float64(e.cfg.RetryMaxBackoff)
	}
	return time.Duration(backoff)
}
