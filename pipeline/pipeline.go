package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamcoop/textflow/rules"
)

// DefaultQuietPeriod is how long input must stay unchanged before a real-time run.
const DefaultQuietPeriod = 300 * time.Millisecond

// ErrClosed is returned by Trigger after Close.
var ErrClosed = errors.New("pipeline closed")

// Executor runs a flow over a text. *rules.Engine satisfies it.
type Executor interface {
	Execute(text string, flow *rules.Flow) *rules.Result
}

// Recorder receives pipeline activity, typically for metrics.
type Recorder interface {
	RecordRequest()
	RecordCoalesced()
	RecordRun(processed bool, d time.Duration)
}

// Output is what the pipeline delivers after every run or pass-through.
// Processed is false when the text was passed through without running the flow.
// Seq increases by one with every delivered output.
type Output struct {
	Text      string             `json:"text"`
	Captures  rules.CaptureStore `json:"captures"`
	Rules     []rules.RuleResult `json:"rules,omitempty"`
	Processed bool               `json:"processed"`
	Seq       uint64             `json:"seq"`
}

// Stats counts pipeline activity since creation.
type Stats struct {
	Requests  uint64 `json:"requests"`
	Runs      uint64 `json:"runs"`
	Coalesced uint64 `json:"coalesced"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithQuietPeriod(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.quiet = d
		}
	}
}

// WithRealTime sets the initial mode. Pipelines start in real-time mode.
func WithRealTime(on bool) Option {
	return func(p *Pipeline) {
		p.realTime = on
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// Pipeline coalesces (text, flow) requests and runs them through an Executor.
// In real-time mode every Update restarts a quiet period and only the latest
// request runs when it elapses. In manual mode Update passes the text through
// and processing happens on Trigger.
type Pipeline struct {
	exec     Executor
	onOutput func(Output)
	quiet    time.Duration
	logger   *slog.Logger
	recorder Recorder

	// mu guards the latest request, the mode and the last output
	mu       sync.Mutex
	text     string
	flow     *rules.Flow
	realTime bool
	closed   bool
	last     Output

	// runMu serializes runs and output delivery
	runMu sync.Mutex
	seq   uint64

	debouncer *Debouncer

	requests  atomic.Uint64
	runs      atomic.Uint64
	coalesced atomic.Uint64
}

// New creates a pipeline. onOutput may be nil; it is called from the goroutine
// that completed the run and must not call back into the pipeline.
func New(exec Executor, onOutput func(Output), opts ...Option) *Pipeline {
	p := &Pipeline{
		exec:     exec,
		onOutput: onOutput,
		quiet:    DefaultQuietPeriod,
		logger:   slog.Default(),
		realTime: true,
		last:     Output{Captures: rules.CaptureStore{}},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.debouncer = NewDebouncer(p.quiet, p.runLatest)
	return p
}

// Update records the latest request. The flow is not copied; callers must not
// mutate it after handing it over.
func (p *Pipeline) Update(text string, flow *rules.Flow) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.text = text
	p.flow = flow
	realTime := p.realTime
	p.mu.Unlock()

	p.requests.Add(1)
	if p.recorder != nil {
		p.recorder.RecordRequest()
	}

	if !realTime {
		p.passThrough()
		return
	}

	if p.debouncer.Call() {
		p.coalesced.Add(1)
		if p.recorder != nil {
			p.recorder.RecordCoalesced()
		}
	}
}

// Trigger processes the latest request now, cancelling any pending run.
func (p *Pipeline) Trigger() (Output, error) {
	if p.isClosed() {
		return Output{}, ErrClosed
	}
	p.debouncer.Cancel()
	return p.run(), nil
}

// SetRealTime switches mode. Turning real-time off cancels pending work and
// passes the latest text through; turning it on schedules a debounced run.
func (p *Pipeline) SetRealTime(on bool) {
	p.mu.Lock()
	if p.closed || p.realTime == on {
		p.mu.Unlock()
		return
	}
	p.realTime = on
	p.mu.Unlock()

	p.logger.Debug("pipeline mode changed", "real_time", on)

	if on {
		p.debouncer.Call()
		return
	}
	p.debouncer.Cancel()
	p.passThrough()
}

// RealTime reports the current mode.
func (p *Pipeline) RealTime() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realTime
}

// Flush runs a pending request immediately. It reports whether one was pending.
func (p *Pipeline) Flush() bool {
	return p.debouncer.Flush()
}

// Close cancels pending work. Later calls are ignored.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.debouncer.Cancel()
}

// Last returns the most recently delivered output.
func (p *Pipeline) Last() Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Requests:  p.requests.Load(),
		Runs:      p.runs.Load(),
		Coalesced: p.coalesced.Load(),
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// runLatest is the debouncer callback. A timer armed by an Update that raced a
// switch to manual mode must not deliver a processed output.
func (p *Pipeline) runLatest() {
	p.mu.Lock()
	skip := p.closed || !p.realTime
	p.mu.Unlock()
	if skip {
		return
	}
	p.run()
}

func (p *Pipeline) run() Output {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	// Read the request at run time so a pending run always sees the latest pair
	p.mu.Lock()
	text, flow := p.text, p.flow
	p.mu.Unlock()

	start := time.Now()
	result := p.exec.Execute(text, flow)
	elapsed := time.Since(start)

	p.runs.Add(1)
	if p.recorder != nil {
		p.recorder.RecordRun(true, elapsed)
	}

	flowID := ""
	if flow != nil {
		flowID = flow.ID
	}
	p.logger.Debug("pipeline run", "flow_id", flowID, "duration", elapsed)

	return p.deliverLocked(Output{
		Text:      result.Text,
		Captures:  result.Captures,
		Rules:     result.Rules,
		Processed: true,
	})
}

func (p *Pipeline) passThrough() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	text := p.text
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.RecordRun(false, 0)
	}
	p.deliverLocked(Output{Text: text, Captures: rules.CaptureStore{}})
}

// deliverLocked stamps out with the next sequence number and hands it to the
// callback. Caller holds runMu.
func (p *Pipeline) deliverLocked(out Output) Output {
	p.seq++
	out.Seq = p.seq
	if out.Captures == nil {
		out.Captures = rules.CaptureStore{}
	}
	p.mu.Lock()
	p.last = out
	p.mu.Unlock()
	if p.onOutput != nil {
		p.onOutput(out)
	}
	return out
}
