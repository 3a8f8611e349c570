package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/ladder"
)

type fakeDriver struct {
	mu       sync.Mutex
	calls    []string
	inflight atomic.Int32
	peak     atomic.Int32
	err      error
	delay    time.Duration
}

func (d *fakeDriver) Execute(_ context.Context, tool string, _ map[string]interface{}) (interface{}, error) {
	cur := d.inflight.Add(1)
	for {
		peak := d.peak.Load()
		if cur <= peak || d.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer d.inflight.Add(-1)

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.calls = append(d.calls, tool)
	d.mu.Unlock()
	return "ok", d.err
}

func newTestGate() (*gate.Gate, *ladder.Ladder, *action.Classifier) {
	classifier := action.NewClassifierFromRules([]action.Rule{
		{Tool: "read_file", Domain: "filesystem", Risk: action.RiskRead},
		{Tool: "delete_artifact", Domain: "artifacts", Risk: action.RiskDestructive},
	})
	lad := ladder.New(ladder.DefaultConfig())
	g := gate.New(classifier, lad, gate.Config{})
	return g, lad, classifier
}

func TestPoolRunsAllowedCalls(t *testing.T) {
	g, _, _ := newTestGate()
	driver := &fakeDriver{}
	pool := NewPool(g, driver, Config{Workers: 2})
	defer pool.Close()

	res, err := pool.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "a.txt"}, gate.Context{})
	require.NoError(t, err)
	assert.Equal(t, action.VerdictAllow, res.Decision.Verdict)
	assert.Equal(t, "ok", res.Output)
}

func TestPoolShortCircuitsDeniedCalls(t *testing.T) {
	g, _, _ := newTestGate()
	driver := &fakeDriver{}
	pool := NewPool(g, driver, Config{Workers: 2})
	defer pool.Close()

	res, err := pool.Execute(context.Background(), "delete_artifact",
		map[string]interface{}{"id": "x"}, gate.Context{})
	require.NoError(t, err)
	assert.Equal(t, action.VerdictDeny, res.Decision.Verdict)
	assert.Empty(t, driver.calls, "the driver never runs for a denied call")
}

func TestPoolBoundsConcurrency(t *testing.T) {
	g, _, _ := newTestGate()
	driver := &fakeDriver{delay: 30 * time.Millisecond}
	pool := NewPool(g, driver, Config{Workers: 2})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Execute(context.Background(), "read_file",
				map[string]interface{}{"path": "a.txt"}, gate.Context{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	pool.Close()

	assert.LessOrEqual(t, driver.peak.Load(), int32(2))
	assert.Len(t, driver.calls, 6)
}

func TestPoolRecordsOutcomes(t *testing.T) {
	g, lad, classifier := newTestGate()
	driver := &fakeDriver{err: errors.New("boom")}
	pool := NewPool(g, driver, Config{Workers: 1}).WithOutcomes(lad, classifier)
	defer pool.Close()

	res, err := pool.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "a.txt"}, gate.Context{})
	require.NoError(t, err)
	require.Error(t, res.Err)

	rewards := lad.Store().Rewards(res.Decision.ActionID)
	require.Len(t, rewards, 1)
	assert.Equal(t, "filesystem", rewards[0].Domain)
	assert.Negative(t, rewards[0].Delta, "a failed execution books a negative pending reward")
}

func TestPoolRejectsAfterClose(t *testing.T) {
	g, _, _ := newTestGate()
	pool := NewPool(g, &fakeDriver{}, Config{Workers: 1})
	pool.Close()

	_, err := pool.Submit(context.Background(), "read_file", nil, gate.Context{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestHeavyPoolCooperativeCancel(t *testing.T) {
	pool := NewHeavyPool(1)
	defer pool.Close()

	started := make(chan struct{})
	h, err := pool.Submit(context.Background(), func(_ context.Context, flag *CancelFlag) error {
		close(started)
		for !flag.Canceled() {
			time.Sleep(time.Millisecond)
		}
		return errors.New("canceled at checkpoint")
	})
	require.NoError(t, err)

	<-started
	h.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = h.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled at checkpoint")
}

func TestHeavyPoolDoesNotStarveFastPool(t *testing.T) {
	g, _, _ := newTestGate()
	fast := NewPool(g, &fakeDriver{}, Config{Workers: 2})
	heavy := NewHeavyPool(1)
	defer fast.Close()
	defer heavy.Close()

	blocked := make(chan struct{})
	h, err := heavy.Submit(context.Background(), func(_ context.Context, _ *CancelFlag) error {
		<-blocked
		return nil
	})
	require.NoError(t, err)

	// The heavy task is stalled, yet fast calls still complete.
	res, err := fast.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": "a.txt"}, gate.Context{})
	require.NoError(t, err)
	assert.Equal(t, action.VerdictAllow, res.Decision.Verdict)

	close(blocked)
	require.NoError(t, h.Wait(context.Background()))
}
