package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"snapkeep/internal/clock"
	"snapkeep/internal/logging"
)

const defaultInterval = time.Second

// HandlerFunc runs in response to a clock event. It receives the decomposed
// tick that triggered it. Slow work should be started on its own goroutine.
type HandlerFunc func(ctx context.Context, now clock.Components) error

// Observer receives tick and dispatch outcomes, typically for metrics.
type Observer interface {
	ObserveTick()
	ObserveDispatch(event, handler string, err error, elapsed time.Duration)
}

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// Scheduler compares the current time with the previous tick once per
// interval and dispatches the boundaries crossed since then. Boundaries
// skipped while the process was suspended are not replayed.
type Scheduler struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	loc      *time.Location
	interval time.Duration

	mu       sync.Mutex
	builtins map[string][]namedHandler
	handlers map[string]HandlerFunc
	table    map[string]string
	last     clock.Components
	primed   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInterval overrides the tick interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithLocation sets the zone ticks are decomposed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.NewComponentLogger(logger, "scheduler")
	}
}

// WithObserver attaches an Observer.
func WithObserver(observer Observer) Option {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

// New builds a scheduler for the given schedule table (event name to handler
// name). Event names are validated and canonicalised.
func New(table map[string]string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		logger:   logging.NewComponentLogger(nil, "scheduler"),
		now:      time.Now,
		loc:      time.Local,
		interval: defaultInterval,
		builtins: make(map[string][]namedHandler),
		handlers: make(map[string]HandlerFunc),
		table:    make(map[string]string, len(table)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for key, handler := range table {
		event, err := ParseEvent(key)
		if err != nil {
			return nil, err
		}
		s.table[event.Name] = strings.TrimSpace(handler)
	}
	return s, nil
}

// On registers a built-in handler that fires whenever event is dispatched,
// independent of the schedule table.
func (s *Scheduler) On(event, name string, fn HandlerFunc) error {
	parsed, err := ParseEvent(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtins[parsed.Name] = append(s.builtins[parsed.Name], namedHandler{name: name, fn: fn})
	return nil
}

// Register makes fn available to the schedule table under name.
func (s *Scheduler) Register(name string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = fn
}

// Validate reports schedule entries that reference unregistered handlers.
func (s *Scheduler) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for event, handler := range s.table {
		if _, ok := s.handlers[handler]; !ok {
			missing = append(missing, fmt.Sprintf("%s -> %s", event, handler))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("schedule references unregistered handlers: %s", strings.Join(missing, ", "))
}

// Table returns a copy of the canonical schedule table.
func (s *Scheduler) Table() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.table))
	for k, v := range s.table {
		out[k] = v
	}
	return out
}

// Prime records now as the previous tick without dispatching anything.
func (s *Scheduler) Prime(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = clock.Decompose(now.In(s.loc))
	s.primed = true
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	primed := s.primed
	s.mu.Unlock()
	if !primed {
		s.Prime(s.now())
	}

	s.logger.Info("scheduler started",
		logging.Duration("interval", s.interval),
		logging.String("timezone", s.loc.String()),
		logging.Int("schedule_entries", len(s.Table())),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Step(ctx, s.now())
		}
	}
}

// Step performs one comparison against the previous tick, dispatches every
// crossed boundary, and returns the dispatched event names in order.
func (s *Scheduler) Step(ctx context.Context, now time.Time) []string {
	cur := clock.Decompose(now.In(s.loc))

	s.mu.Lock()
	if !s.primed {
		s.last = cur
		s.primed = true
		s.mu.Unlock()
		return nil
	}
	prev := s.last
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveTick()
	}

	events := eventsBetween(prev, cur)
	names := make([]string, 0, len(events))
	for _, event := range events {
		s.Dispatch(ctx, event.Name, cur)
		names = append(names, event.Name)
	}

	s.mu.Lock()
	s.last = cur
	s.mu.Unlock()
	return names
}

// Dispatch fires the built-in handlers for event and then the schedule-mapped
// handler, if any. Handler failures are logged and never propagate.
func (s *Scheduler) Dispatch(ctx context.Context, event string, cur clock.Components) {
	s.mu.Lock()
	builtins := append([]namedHandler(nil), s.builtins[event]...)
	mapped, hasMapping := s.table[event]
	fn, registered := s.handlers[mapped]
	s.mu.Unlock()

	for _, h := range builtins {
		s.invoke(ctx, event, h.name, h.fn, cur)
	}
	if !hasMapping {
		return
	}
	if !registered {
		logging.WarnWithContext(s.logger, "schedule handler not registered; event skipped", "schedule_handler_missing",
			logging.String(logging.FieldEvent, event),
			logging.String(logging.FieldHandler, mapped),
			logging.String(logging.FieldErrorHint, "check [schedule.events] handler names"),
			logging.String(logging.FieldImpact, "scheduled job did not run"),
		)
		return
	}
	s.invoke(ctx, event, mapped, fn, cur)
}

func (s *Scheduler) invoke(ctx context.Context, event, name string, fn HandlerFunc, cur clock.Components) {
	started := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			s.logger.Debug("handler panic stack",
				logging.String(logging.FieldHandler, name),
				logging.String("stack", string(debug.Stack())),
			)
		}
		elapsed := time.Since(started)
		if s.observer != nil {
			s.observer.ObserveDispatch(event, name, err, elapsed)
		}
		if err != nil {
			logging.ErrorWithContext(s.logger, "schedule handler failed", "schedule_handler_failed",
				logging.String(logging.FieldEvent, event),
				logging.String(logging.FieldHandler, name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "ticking continues; the next matching event retries"),
			)
			return
		}
		s.logger.Debug("schedule handler dispatched",
			logging.String(logging.FieldEvent, event),
			logging.String(logging.FieldHandler, name),
			logging.Duration("elapsed", elapsed),
		)
	}()
	err = fn(ctx, cur)
}
