// Package executor runs gate-mediated tool calls under bounded worker pools.
// A fast pool serves ordinary tool calls; long batch work goes through a
// separate, smaller heavy pool so a stalled batch job cannot starve gate
// evaluations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/ladder"
)

// ErrPoolClosed reports a submission to a pool that has been shut down.
var ErrPoolClosed = errors.New("executor pool closed")

// ToolDriver performs the actual tool execution once the gate allows it.
type ToolDriver interface {
	Execute(ctx context.Context, tool string, args map[string]interface{}) (interface{}, error)
}

// Result is the outcome of one mediated call.
type Result struct {
	Decision action.Decision
	Output   interface{}
	Err      error
}

// Config sizes the fast pool.
type Config struct {
	// Workers bounds concurrent executions. Zero means 8.
	Workers int
	// RatePerSecond throttles submissions; zero disables throttling.
	RatePerSecond float64
	// Burst is the limiter burst size when throttling is on.
	Burst int
}

// Pool is the bounded fast pool. Every submission is evaluated by the gate
// before the driver runs; a DENY or NEED_APPROVAL verdict short-circuits
// without touching the driver.
type Pool struct {
	gate    *gate.Gate
	driver  ToolDriver
	sem     chan struct{}
	limiter *rate.Limiter
	logger  *slog.Logger

	ladder     *ladder.Ladder
	classifier *action.Classifier

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a fast pool over a gate and a driver.
func NewPool(g *gate.Gate, driver ToolDriver, cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = workers
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Pool{
		gate:    g,
		driver:  driver,
		sem:     make(chan struct{}, workers),
		limiter: limiter,
		logger:  slog.Default().With("component", "executor"),
	}
}

// WithOutcomes wires executed calls back into the autonomy ladder: each
// completed execution books a success or failure outcome for its domain.
func (p *Pool) WithOutcomes(lad *ladder.Ladder, classifier *action.Classifier) *Pool {
	p.ladder = lad
	p.classifier = classifier
	return p
}

// Submit schedules one mediated call. It blocks while the pool is saturated
// or the rate limiter holds the submission back, then returns a channel that
// delivers exactly one Result.
func (p *Pool) Submit(ctx context.Context, tool string, args map[string]interface{}, call gate.Context) (<-chan Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.wg.Done()
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return nil, ctx.Err()
	}

	out := make(chan Result, 1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		out <- p.run(ctx, tool, args, call)
	}()
	return out, nil
}

// Execute is the synchronous form of Submit.
func (p *Pool) Execute(ctx context.Context, tool string, args map[string]interface{}, call gate.Context) (Result, error) {
	ch, err := p.Submit(ctx, tool, args, call)
	if err != nil {
		return Result{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, tool string, args map[string]interface{}, call gate.Context) Result {
	d := p.gate.Evaluate(ctx, tool, args, call)
	if !d.Allowed() {
		return Result{Decision: d}
	}

	output, err := p.driver.Execute(ctx, tool, args)
	p.recordOutcome(ctx, tool, d.ActionID, err)
	return Result{Decision: d, Output: output, Err: err}
}

func (p *Pool) recordOutcome(ctx context.Context, tool, actionID string, execErr error) {
	if p.ladder == nil || p.classifier == nil {
		return
	}
	domain, risk := p.classifier.Classify(tool)
	outcome := ladder.OutcomeSuccess
	if execErr != nil {
		outcome = ladder.OutcomeFailure
	}
	p.ladder.RecordOutcome(ctx, actionID, domain, risk, outcome)
}

// Close stops accepting submissions and waits for in-flight work.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
