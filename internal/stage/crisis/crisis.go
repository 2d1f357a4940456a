// Package crisis implements the safety-keyword detection stage.
//
// The detector watches upstream user text for a fixed set of crisis phrases
// and raises an escalation signal through a [Notifier], rate-limited by a
// cooldown so a distressed user repeating themselves does not trigger a
// storm of notifications. The stage never blocks, drops, or rewrites the
// frames it inspects; injecting crisis resources into the conversation is
// the responsibility of a collaborator reacting to the notification.
package crisis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
)

// Keywords is the fixed phrase list scanned for in user text. Matching is
// plain lower-cased substring search, deliberately not word-boundary aware,
// accepting over-matching on short phrases rather than missing a real signal.
var Keywords = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"kill my self",
	"end my life",
	"end it all",
	"want to die",
	"better off dead",
	"no reason to live",
	"self harm",
	"self-harm",
	"hurt myself",
	"hurt my self",
}

// Resources is the support text a collaborator can inject into the
// conversation when an escalation fires.
const Resources = `I'm very concerned about what you've shared. Your safety is the top priority right now.

If you're in immediate danger, please reach out to crisis support:

1. Call 988 - Suicide & Crisis Lifeline (US) - Available 24/7
2. Text "HELLO" to 741741 - Crisis Text Line
3. Go to your nearest emergency room
4. International Crisis Lines: findahelpline.com

You are not alone. Help is available, and people care about you.

I'm here to support you, but I'm not equipped to handle crisis situations. Please reach out to one of these resources. They have trained professionals who can provide the help you need right now.`

// cooldown is the minimum interval between escalations.
const cooldown = 60 * time.Second

// Notifier receives escalation signals. OnCrisisDetected is invoked
// fire-and-forget on its own goroutine; a slow or failing notifier must not
// and does not block frame forwarding.
type Notifier interface {
	OnCrisisDetected(text string, keywords []string)
}

// NotifierFunc adapts a plain function to the [Notifier] interface.
type NotifierFunc func(text string, keywords []string)

// OnCrisisDetected implements [Notifier].
func (f NotifierFunc) OnCrisisDetected(text string, keywords []string) { f(text, keywords) }

// Detect scans text for crisis phrases and returns every matched keyword.
func Detect(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// Detector is the pipeline stage. It inspects upstream TextChunk and
// FinalTranscript frames only and forwards every frame unchanged.
type Detector struct {
	notifier Notifier
	now      func() time.Time

	mu          sync.Mutex
	lastTrigger time.Time
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithClock overrides the time source. Tests use this to step through the
// cooldown window without sleeping.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector that reports escalations to notifier. A nil
// notifier disables reporting; detection still runs and is logged by the
// pipeline's stats layer.
func New(notifier Notifier, opts ...Option) *Detector {
	d := &Detector{
		notifier: notifier,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name implements [pipeline.Stage].
func (d *Detector) Name() string { return "crisis-detector" }

// Process implements [pipeline.Stage]. Frames are always forwarded in their
// original direction before any notification work happens.
func (d *Detector) Process(_ context.Context, f frame.Frame, emit pipeline.Emit) error {
	emit(f)

	if f.Direction != frame.Upstream {
		return nil
	}
	if f.Kind != frame.KindTextChunk && f.Kind != frame.KindFinalTranscript {
		return nil
	}

	matched := Detect(f.Text)
	if len(matched) == 0 {
		return nil
	}

	d.mu.Lock()
	now := d.now()
	if !d.lastTrigger.IsZero() && now.Sub(d.lastTrigger) <= cooldown {
		d.mu.Unlock()
		return nil
	}
	d.lastTrigger = now
	d.mu.Unlock()

	if d.notifier != nil {
		go d.notifier.OnCrisisDetected(f.Text, matched)
	}
	return nil
}
