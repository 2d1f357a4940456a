// Package pipeline implements the ordered stage chain at the heart of a
// Solenne voice session.
//
// A Pipeline owns a fixed, ordered list of [Stage] values and wires frame
// forwarding between adjacent stages: a frame emitted downstream by stage i
// is delivered to stage i+1, a frame emitted upstream to stage i-1. Each
// stage runs on its own goroutine with a FIFO inbox, so a stage processes
// one input to completion, including every frame it emits in response,
// before accepting its next input. This gives deterministic per-stage
// sequencing without any locking inside stage code.
//
// Lifecycle: [Pipeline.Start] propagates a SessionStart control frame
// through the whole chain before any content frame is accepted.
// [Pipeline.Cancel] delivers SessionEnd directly to every stage (bypassing
// the chain), discards pending queued frames, and stops all stage
// goroutines. A cancelled pipeline is terminal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solenne-ai/solenne/pkg/frame"
)

const (
	// defaultInboxDepth is the buffer depth of each stage's inbox channel.
	defaultInboxDepth = 64

	// maxConsecutiveErrors is the number of consecutive failures from a
	// single stage that escalates to pipeline-wide cancellation.
	maxConsecutiveErrors = 3
)

// ErrNotRunning is returned by [Pipeline.QueueFrame] before Start.
var ErrNotRunning = errors.New("pipeline: not running")

// ErrCancelled is returned by [Pipeline.QueueFrame] after Cancel.
var ErrCancelled = errors.New("pipeline: cancelled")

// Emit delivers a frame to the emitting stage's neighbour in the frame's
// direction. Stages call it zero or more times per input; emission order is
// delivery order.
type Emit func(f frame.Frame)

// Stage is one processing unit in the chain.
//
// Process consumes a single frame and emits zero or more frames via emit,
// including the input frame itself when it should continue through the
// chain. A stage that does not recognise a frame must forward it unchanged
// in its original direction. Returning a non-nil error (or panicking)
// converts the failure into an Error frame forwarded upstream from the
// stage's position; the chain keeps running unless the same stage fails
// repeatedly.
//
// Process is never invoked concurrently for the same stage. On receipt of a
// SessionEnd frame the stage must release any held resources.
type Stage interface {
	Name() string
	Process(ctx context.Context, f frame.Frame, emit Emit) error
}

// StatsRecorder receives per-frame processing observations. Implementations
// must be safe for concurrent use.
type StatsRecorder interface {
	FrameProcessed(stage string, kind frame.Kind, elapsed time.Duration)
	StageError(stage string)
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithInboxDepth overrides the per-stage inbox buffer depth. Default 64.
func WithInboxDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.inboxDepth = n
		}
	}
}

// WithStats attaches a [StatsRecorder] that observes every processed frame.
func WithStats(s StatsRecorder) Option {
	return func(p *Pipeline) { p.stats = s }
}

// Pipeline state values.
const (
	stateIdle int32 = iota
	stateRunning
	stateCancelled
)

// Pipeline is an ordered chain of stages. Construct with [New]; the stage
// order is fixed for the pipeline's lifetime. QueueFrame and Cancel are safe
// for concurrent use; Start must be called exactly once.
type Pipeline struct {
	stages     []Stage
	inboxDepth int
	stats      StatsRecorder

	state   atomic.Int32
	inboxes []chan frame.Frame

	// stageMu serialises Process calls per stage: the stage's own loop and
	// the direct SessionEnd delivery in Cancel both take it.
	stageMu []sync.Mutex

	// consecErrs counts consecutive failures per stage, reset on success.
	// Accessed only under the corresponding stageMu.
	consecErrs []int

	quit       chan struct{}
	cancelOnce sync.Once
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a pipeline over the given ordered stage list.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:     stages,
		inboxDepth: defaultInboxDepth,
		quit:       make(chan struct{}),
		stageMu:    make([]sync.Mutex, len(stages)),
		consecErrs: make([]int, len(stages)),
	}
	for _, o := range opts {
		o(p)
	}
	p.inboxes = make([]chan frame.Frame, len(stages))
	for i := range p.inboxes {
		p.inboxes[i] = make(chan frame.Frame, p.inboxDepth)
	}
	return p
}

// Start transitions the pipeline to running. It first delivers a
// SessionStart control frame to every stage synchronously in list order,
// so stages can open resources deterministically before data arrives, then
// launches the stage goroutines and begins accepting frames.
//
// Frames emitted by stages while handling SessionStart are buffered and
// routed once all stages are running.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(stateIdle, stateRunning) {
		return fmt.Errorf("pipeline: start: already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	// Synchronous SessionStart walk. Emissions are deferred until the stage
	// loops are live. The emit handed to each stage stays valid for the whole
	// session: stages that stream results from background goroutines hold on
	// to it, so late calls route directly once the loops are up.
	type deferred struct {
		from int
		f    frame.Frame
	}
	var (
		pendingMu sync.Mutex
		pending   []deferred
		live      bool
	)
	start := frame.SessionStart()
	for i, st := range p.stages {
		idx := i
		err := p.invoke(idx, start, func(out frame.Frame) {
			pendingMu.Lock()
			if !live {
				pending = append(pending, deferred{from: idx, f: out})
				pendingMu.Unlock()
				return
			}
			pendingMu.Unlock()
			p.route(idx, out)
		})
		if err != nil {
			slog.Warn("pipeline: stage failed during session start", "stage", st.Name(), "err", err)
		}
	}

	for i := range p.stages {
		p.wg.Add(1)
		go p.stageLoop(i)
	}

	pendingMu.Lock()
	live = true
	buffered := pending
	pending = nil
	pendingMu.Unlock()
	for _, d := range buffered {
		// SessionStart itself is delivered out-of-band above; do not route
		// duplicate copies emitted by forwarding stages.
		if d.f.Kind == frame.KindSessionStart {
			continue
		}
		p.route(d.from, d.f)
	}
	return nil
}

// Run starts the pipeline and blocks until ctx is cancelled or the pipeline
// is cancelled (externally or by error escalation). Cancellation is the
// clean-shutdown path: Run returns nil in both cases after all stage
// goroutines have stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-p.quit:
	}
	p.Cancel()
	p.wg.Wait()
	return nil
}

// QueueFrame injects an external frame: downstream frames enter at the head
// of the chain, upstream frames at the tail. This is the only thread-safe
// entry point from outside the pipeline's own processing.
func (p *Pipeline) QueueFrame(f frame.Frame) error {
	switch p.state.Load() {
	case stateIdle:
		return ErrNotRunning
	case stateCancelled:
		return ErrCancelled
	}
	target := 0
	if f.Direction == frame.Upstream {
		target = len(p.stages) - 1
	}
	select {
	case p.inboxes[target] <- f:
		return nil
	case <-p.quit:
		return ErrCancelled
	}
}

// Cancel terminates the pipeline: it stops frame intake, delivers a
// SessionEnd control frame directly to every stage (not routed through the
// chain), and discards any pending queued frames. Cancel is idempotent and
// safe to call from any goroutine, including stage callbacks.
func (p *Pipeline) Cancel() {
	p.cancelOnce.Do(func() {
		p.state.Store(stateCancelled)
		close(p.quit)
		// Unblock any stage waiting on network I/O before asking it to
		// release resources, otherwise the SessionEnd walk below could wait
		// on a stalled Process call indefinitely.
		if p.cancel != nil {
			p.cancel()
		}

		end := frame.SessionEnd()
		for i, st := range p.stages {
			// Frames emitted in response to SessionEnd are discarded along
			// with everything else still queued.
			if err := p.invoke(i, end, func(frame.Frame) {}); err != nil {
				slog.Warn("pipeline: stage failed during session end", "stage", st.Name(), "err", err)
			}
		}
	})
}

// Done returns a channel closed when the pipeline has been cancelled.
func (p *Pipeline) Done() <-chan struct{} {
	return p.quit
}

// Wait blocks until every stage goroutine has exited. Only meaningful after
// Cancel (or a Run return).
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// stageLoop is the per-stage goroutine: it drains the stage's inbox in FIFO
// order until the pipeline is cancelled. Pending inbox frames at shutdown
// are dropped, never partially processed.
func (p *Pipeline) stageLoop(i int) {
	defer p.wg.Done()
	for {
		// Check quit first so a stage never picks up a queued frame after
		// cancellation when both channels are ready.
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case <-p.quit:
			return
		case f := <-p.inboxes[i]:
			p.process(i, f)
		}
	}
}

// process runs one frame through stage i, handling failure accounting and
// upstream Error conversion.
func (p *Pipeline) process(i int, f frame.Frame) {
	st := p.stages[i]
	began := time.Now()
	err := p.invoke(i, f, func(out frame.Frame) { p.route(i, out) })
	if p.stats != nil {
		p.stats.FrameProcessed(st.Name(), f.Kind, time.Since(began))
	}
	if err == nil {
		p.stageMu[i].Lock()
		p.consecErrs[i] = 0
		p.stageMu[i].Unlock()
		return
	}

	if p.stats != nil {
		p.stats.StageError(st.Name())
	}
	slog.Warn("pipeline: stage error", "stage", st.Name(), "kind", f.Kind.String(), "err", err)
	p.route(i, frame.Error(st.Name(), err))

	p.stageMu[i].Lock()
	p.consecErrs[i]++
	fatal := p.consecErrs[i] >= maxConsecutiveErrors
	p.stageMu[i].Unlock()
	if fatal {
		slog.Error("pipeline: stage failed repeatedly, cancelling", "stage", st.Name(), "failures", maxConsecutiveErrors)
		// Cancel re-enters every stage; run it off this goroutine so the
		// current stage's loop can exit.
		go p.Cancel()
	}
}

// invoke calls stage i's Process under its mutex, converting panics into
// errors so a misbehaving stage cannot crash the chain.
func (p *Pipeline) invoke(i int, f frame.Frame, emit Emit) (err error) {
	p.stageMu[i].Lock()
	defer p.stageMu[i].Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: stage %s panicked: %v", p.stages[i].Name(), r)
		}
	}()
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return p.stages[i].Process(ctx, f, emit)
}

// route delivers a frame emitted by stage i to its neighbour in the frame's
// direction. Frames that fall off either end of the chain are discarded;
// the bridge's output stage sits at the tail precisely so that nothing of
// interest reaches the edge.
func (p *Pipeline) route(from int, f frame.Frame) {
	target := from + 1
	if f.Direction == frame.Upstream {
		target = from - 1
	}
	if target < 0 || target >= len(p.stages) {
		if f.Kind == frame.KindError {
			slog.Debug("pipeline: error frame left the chain", "origin", f.Origin, "err", f.Err)
		}
		return
	}
	select {
	case p.inboxes[target] <- f:
	case <-p.quit:
	}
}
