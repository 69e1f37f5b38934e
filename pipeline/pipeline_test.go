package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/textflow/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeExecutor) Execute(text string, flow *rules.Flow) *rules.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	return &rules.Result{Text: strings.ToUpper(text), Captures: rules.CaptureStore{}}
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type collector struct {
	mu      sync.Mutex
	outputs []Output
}

func (c *collector) collect(out Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, out)
}

func (c *collector) Outputs() []Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Output(nil), c.outputs...)
}

type countingRecorder struct {
	mu                            sync.Mutex
	requests, coalesced, runs, pt int
}

func (r *countingRecorder) RecordRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
}

func (r *countingRecorder) RecordCoalesced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coalesced++
}

func (r *countingRecorder) RecordRun(processed bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if processed {
		r.runs++
	} else {
		r.pt++
	}
}

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *fakeExecutor, *collector) {
	t.Helper()
	exec := &fakeExecutor{}
	out := &collector{}
	p := New(exec, out.collect, opts...)
	t.Cleanup(p.Close)
	return p, exec, out
}

func TestPipeline_CoalescesBursts(t *testing.T) {
	rec := &countingRecorder{}
	p, exec, out := newTestPipeline(t, WithQuietPeriod(40*time.Millisecond), WithRecorder(rec))
	flow := rules.NewFlow("f")

	const n = 10
	for i := 1; i <= n; i++ {
		p.Update(fmt.Sprintf("input %d", i), flow)
	}

	require.Eventually(t, func() bool { return len(exec.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	// Nothing else fires afterwards
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"input 10"}, exec.Calls())

	outputs := out.Outputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "INPUT 10", outputs[0].Text)
	assert.True(t, outputs[0].Processed)
	assert.Equal(t, uint64(1), outputs[0].Seq)

	assert.Equal(t, Stats{Requests: n, Runs: 1, Coalesced: n - 1}, p.Stats())
	assert.Equal(t, n, rec.requests)
	assert.Equal(t, n-1, rec.coalesced)
	assert.Equal(t, 1, rec.runs)
}

func TestPipeline_QuietPeriodRestarts(t *testing.T) {
	p, exec, _ := newTestPipeline(t, WithQuietPeriod(60*time.Millisecond))

	p.Update("a", nil)
	time.Sleep(30 * time.Millisecond)
	p.Update("ab", nil)
	time.Sleep(40 * time.Millisecond)

	// 70ms after the first update but only 40ms after the last one
	assert.Empty(t, exec.Calls())

	require.Eventually(t, func() bool { return len(exec.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ab"}, exec.Calls())
}

func TestPipeline_ManualMode(t *testing.T) {
	p, exec, out := newTestPipeline(t, WithRealTime(false))
	assert.False(t, p.RealTime())

	p.Update("hello", rules.NewFlow("f"))

	outputs := out.Outputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "hello", outputs[0].Text)
	assert.False(t, outputs[0].Processed)
	assert.Empty(t, exec.Calls())

	got, err := p.Trigger()
	require.NoError(t, err)
	assert.Equal(t, "HELLO", got.Text)
	assert.True(t, got.Processed)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, []string{"hello"}, exec.Calls())
	assert.Equal(t, got, p.Last())
	assert.Len(t, out.Outputs(), 2)
}

func TestPipeline_TriggerCancelsPending(t *testing.T) {
	p, exec, _ := newTestPipeline(t, WithQuietPeriod(50*time.Millisecond))

	p.Update("now", nil)
	_, err := p.Trigger()
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, []string{"now"}, exec.Calls())
}

func TestPipeline_SwitchToManualCancelsPending(t *testing.T) {
	p, exec, out := newTestPipeline(t, WithQuietPeriod(50*time.Millisecond))

	p.Update("typed", nil)
	p.SetRealTime(false)

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, exec.Calls())

	outputs := out.Outputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, "typed", outputs[0].Text)
	assert.False(t, outputs[0].Processed)
}

// A timer armed by an Update that read real-time mode just before a switch to
// manual mode must not deliver a processed output.
func TestPipeline_StaleTimerAfterManualSwitch(t *testing.T) {
	p, exec, out := newTestPipeline(t, WithQuietPeriod(20*time.Millisecond))

	p.mu.Lock()
	p.text = "typed"
	p.mu.Unlock()
	p.SetRealTime(false)

	// The racing Update arms its timer after the switch
	p.debouncer.Call()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, exec.Calls())
	for _, o := range out.Outputs() {
		assert.False(t, o.Processed)
	}
	assert.False(t, p.Last().Processed)
}

func TestPipeline_SwitchToRealTimeSchedulesRun(t *testing.T) {
	p, exec, _ := newTestPipeline(t, WithQuietPeriod(20*time.Millisecond), WithRealTime(false))

	p.Update("one", nil)
	p.Update("two", nil)
	assert.Empty(t, exec.Calls())

	p.SetRealTime(true)
	require.Eventually(t, func() bool { return len(exec.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"two"}, exec.Calls())

	// Setting the same mode again is a no-op
	p.SetRealTime(true)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, exec.Calls(), 1)
}

func TestPipeline_Flush(t *testing.T) {
	p, exec, _ := newTestPipeline(t, WithQuietPeriod(time.Hour))

	assert.False(t, p.Flush(), "nothing pending")

	p.Update("pending", nil)
	assert.True(t, p.Flush())
	assert.Equal(t, []string{"pending"}, exec.Calls())
	assert.False(t, p.Flush())
}

func TestPipeline_Close(t *testing.T) {
	p, exec, out := newTestPipeline(t, WithQuietPeriod(30*time.Millisecond))

	p.Update("before close", nil)
	p.Close()
	p.Update("after close", nil)
	p.SetRealTime(false)

	_, err := p.Trigger()
	assert.ErrorIs(t, err, ErrClosed)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, exec.Calls())
	assert.Empty(t, out.Outputs())
	assert.True(t, p.RealTime())
}

func TestPipeline_SequenceIncreases(t *testing.T) {
	p, _, out := newTestPipeline(t, WithRealTime(false))

	for i := 0; i < 5; i++ {
		p.Update(fmt.Sprint(i), nil)
		if i%2 == 0 {
			_, err := p.Trigger()
			require.NoError(t, err)
		}
	}

	outputs := out.Outputs()
	require.Len(t, outputs, 8)
	for i, o := range outputs {
		assert.Equal(t, uint64(i+1), o.Seq)
	}
}

func TestPipeline_WithEngine(t *testing.T) {
	engine, err := rules.NewEngine()
	require.NoError(t, err)

	out := &collector{}
	p := New(engine, out.collect, WithRealTime(false))
	t.Cleanup(p.Close)

	flow := rules.NewFlow("emails")
	r := rules.NewRule()
	r.Pattern = `\w+@\w+`
	r.StoreInFlow = true
	r.FlowKey = "emails"
	r.Replacement = "<redacted>"
	flow.Rules = append(flow.Rules, r)

	p.Update("mail bob@x now", flow)
	got, err := p.Trigger()
	require.NoError(t, err)

	assert.Equal(t, "mail <redacted> now", got.Text)
	assert.Equal(t, rules.CaptureStore{"emails": {"bob@x"}}, got.Captures)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, rules.StatusApplied, got.Rules[0].Status)

	// A nil flow still runs and passes the text through
	p.Update("plain", nil)
	got, err = p.Trigger()
	require.NoError(t, err)
	assert.Equal(t, "plain", got.Text)
	assert.True(t, got.Processed)
	assert.Empty(t, got.Captures)
}

func TestPipeline_ConcurrentUpdates(t *testing.T) {
	p, exec, _ := newTestPipeline(t, WithQuietPeriod(30*time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				p.Update(fmt.Sprintf("%d-%d", i, j), nil)
			}
		}(i)
	}
	wg.Wait()
	p.Update("final", nil)

	require.Eventually(t, func() bool { return len(exec.Calls()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	calls := exec.Calls()
	assert.Equal(t, "final", calls[len(calls)-1])
	assert.Equal(t, uint64(161), p.Stats().Requests)
}
