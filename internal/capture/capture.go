// Package capture implements the lifecycle of recording a sign clip:
// a short countdown, recording, and review before the clip is saved or
// discarded.
//
//	Idle --StartCountdown--> CountingDown --(last tick)--> Recording
//	Recording --StopRecording--> Review     (failure: back to Idle)
//	Review --Retake--> Idle
//	Review --Save--> Idle                   (failure: stays in Review)
//	any --Reset--> Idle
//
// The countdown runs on scheduled callbacks. Every callback carries the
// session generation it was scheduled for; Reset bumps the generation so a
// callback that fires late does nothing.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/signdeck/internal/catalog"
	"github.com/MrWong99/signdeck/internal/observe"
	"github.com/MrWong99/signdeck/pkg/types"
)

const (
	// DefaultCountdown is the number of ticks before recording starts.
	DefaultCountdown = 3

	// DefaultTick is the countdown tick interval.
	DefaultTick = time.Second
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current phase.
	ErrInvalidTransition = errors.New("capture: invalid transition")

	// ErrSessionReset is returned by StopRecording when the session was
	// reset while the recorder was stopping. The clip is discarded.
	ErrSessionReset = errors.New("capture: session reset while stopping")
)

// Phase is the lifecycle phase of a [Session].
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountingDown
	PhaseRecording
	PhaseReview
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountingDown:
		return "counting_down"
	case PhaseRecording:
		return "recording"
	case PhaseReview:
		return "review"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Recorder is the camera collaborator.
type Recorder interface {
	StartRecording() error

	// StopRecording finishes the recording and returns the temporary
	// clip it was saved to.
	StopRecording(ctx context.Context) (types.Locator, error)
}

// Saver persists a reviewed clip for a word. [library.Coordinator]
// satisfies it.
type Saver interface {
	SaveCapture(ctx context.Context, word string, temp types.Locator) (catalog.Entry, error)
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// State is a copy of the session's observable state.
type State struct {
	Phase              Phase
	Countdown          int
	RecordingStartedAt time.Time
	Result             types.Locator
}

// Option configures a [Session].
type Option func(*Session)

// WithCountdown sets the countdown length in ticks.
func WithCountdown(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.countdownFrom = n
		}
	}
}

// WithTick sets the countdown tick interval.
func WithTick(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithClock injects the scheduling and time functions.
func WithClock(after AfterFunc, now func() time.Time) Option {
	return func(s *Session) {
		if after != nil {
			s.after = after
		}
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics records phase transitions on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one capture flow. It is safe for concurrent use; listeners
// run outside the lock.
type Session struct {
	recorder      Recorder
	after         AfterFunc
	now           func() time.Time
	metrics       *observe.Metrics
	countdownFrom int
	tick          time.Duration

	mu        sync.Mutex
	phase     Phase
	countdown int
	startedAt time.Time
	result    types.Locator
	gen       uint64
	stopTimer func() bool
	nextID    int
	listeners map[int]func(State)
}

// New returns an idle Session using rec.
func New(rec Recorder, opts ...Option) *Session {
	s := &Session{
		recorder:      rec,
		after:         timeAfterFunc,
		now:           time.Now,
		countdownFrom: DefaultCountdown,
		tick:          DefaultTick,
		listeners:     make(map[int]func(State)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// OnChange registers fn to receive the state after every change. The
// returned function removes fn.
func (s *Session) OnChange(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// StartCountdown begins the countdown. Only valid when idle.
func (s *Session) StartCountdown() error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		p := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: start countdown in %s", ErrInvalidTransition, p)
	}
	s.gen++
	s.countdown = s.countdownFrom
	s.setPhaseLocked(PhaseCountingDown)
	s.scheduleTickLocked()
	s.unlockAndNotify()
	return nil
}

func (s *Session) scheduleTickLocked() {
	gen := s.gen
	s.stopTimer = s.after(s.tick, func() { s.onTick(gen) })
}

func (s *Session) onTick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.phase != PhaseCountingDown {
		s.mu.Unlock()
		return
	}
	if s.countdown > 1 {
		s.countdown--
		s.scheduleTickLocked()
		s.unlockAndNotify()
		return
	}

	s.stopTimer = nil
	s.countdown = 0
	s.startedAt = s.now()
	s.setPhaseLocked(PhaseRecording)
	s.unlockAndNotify()

	if err := s.recorder.StartRecording(); err != nil {
		slog.Warn("capture: start recording failed", "err", err)
		s.resetIfGen(gen)
	}
}

// StopRecording stops the recorder and moves to review with the recorded
// clip. On failure the session returns to idle and the error is returned.
func (s *Session) StopRecording(ctx context.Context) (types.Locator, error) {
	s.mu.Lock()
	if s.phase != PhaseRecording {
		p := s.phase
		s.mu.Unlock()
		return "", fmt.Errorf("%w: stop recording in %s", ErrInvalidTransition, p)
	}
	gen := s.gen
	s.mu.Unlock()

	clip, err := s.recorder.StopRecording(ctx)

	s.mu.Lock()
	if gen != s.gen || s.phase != PhaseRecording {
		s.mu.Unlock()
		return "", ErrSessionReset
	}
	if err != nil {
		s.resetLocked()
		s.unlockAndNotify()
		return "", fmt.Errorf("capture: stop recording: %w", err)
	}
	s.result = clip
	s.setPhaseLocked(PhaseReview)
	s.unlockAndNotify()
	return clip, nil
}

// Retake discards the reviewed clip and returns to idle.
func (s *Session) Retake() error {
	s.mu.Lock()
	if s.phase != PhaseReview {
		p := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: retake in %s", ErrInvalidTransition, p)
	}
	s.resetLocked()
	s.unlockAndNotify()
	return nil
}

// Save hands the reviewed clip for word to saver. On success the session
// returns to idle; on failure it stays in review so the save can be
// retried.
func (s *Session) Save(ctx context.Context, word string, saver Saver) (catalog.Entry, error) {
	s.mu.Lock()
	if s.phase != PhaseReview {
		p := s.phase
		s.mu.Unlock()
		return catalog.Entry{}, fmt.Errorf("%w: save in %s", ErrInvalidTransition, p)
	}
	clip, gen := s.result, s.gen
	s.mu.Unlock()

	e, err := saver.SaveCapture(ctx, word, clip)
	if err != nil {
		return catalog.Entry{}, err
	}
	s.resetIfGen(gen)
	return e, nil
}

// Reset cancels any pending countdown, discards the result and returns to
// idle. It is valid in every phase.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.unlockAndNotify()
}

func (s *Session) resetIfGen(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.unlockAndNotify()
}

func (s *Session) resetLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	s.gen++
	s.countdown = 0
	s.startedAt = time.Time{}
	s.result = ""
	s.setPhaseLocked(PhaseIdle)
}

func (s *Session) setPhaseLocked(p Phase) {
	if s.phase == p {
		return
	}
	s.phase = p
	s.metrics.RecordCaptureTransition(context.Background(), p.String())
	slog.Debug("capture phase changed", "phase", p.String())
}

func (s *Session) stateLocked() State {
	return State{
		Phase:              s.phase,
		Countdown:          s.countdown,
		RecordingStartedAt: s.startedAt,
		Result:             s.result,
	}
}

// unlockAndNotify releases s.mu and delivers the new state to listeners.
func (s *Session) unlockAndNotify() {
	st := s.stateLocked()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
