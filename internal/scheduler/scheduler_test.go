package scheduler_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"snapkeep/internal/clock"
	"snapkeep/internal/scheduler"
)

type recordingObserver struct {
	mu       sync.Mutex
	ticks    int
	failures []string
}

func (o *recordingObserver) ObserveTick() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks++
}

func (o *recordingObserver) ObserveDispatch(event, handler string, err error, _ time.Duration) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, event+"/"+handler)
}

func newScheduler(t *testing.T, table map[string]string, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	opts = append([]scheduler.Option{scheduler.WithLocation(time.UTC)}, opts...)
	s, err := scheduler.New(table, opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s
}

func TestParseEventCanonicalises(t *testing.T) {
	cases := map[string]scheduler.Event{
		"minute": {Kind: scheduler.EventMinute, Name: "minute"},
		"Day":    {Kind: scheduler.EventDay, Name: "day"},
		"07:05":  {Kind: scheduler.EventClockTime, Name: "07:05"},
		":30":    {Kind: scheduler.EventMinuteMark, Name: ":30"},
	}
	for input, want := range cases {
		got, err := scheduler.ParseEvent(input)
		if err != nil {
			t.Fatalf("ParseEvent(%q) error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseEvent(%q) = %+v, want %+v", input, got, want)
		}
	}
	for _, bad := range []string{"", "tick", "24:00", "7:05", ":60", "12:5"} {
		if _, err := scheduler.ParseEvent(bad); !errors.Is(err, scheduler.ErrUnknownEvent) {
			t.Fatalf("ParseEvent(%q) expected ErrUnknownEvent, got %v", bad, err)
		}
	}
}

func TestStepAcrossMidnightDispatchesInOrder(t *testing.T) {
	s := newScheduler(t, nil)
	s.Prime(time.Date(2023, time.December, 31, 23, 59, 59, 0, time.UTC))

	got := s.Step(context.Background(), time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	want := []string{"minute", "00:00", ":00", "hour", "day", "month", "year"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	if again := s.Step(context.Background(), time.Date(2024, time.January, 1, 0, 0, 1, 0, time.UTC)); len(again) != 0 {
		t.Fatalf("expected no events within the same minute, got %v", again)
	}
}

func TestDayDispatchedExactlyOncePerDay(t *testing.T) {
	counts := map[string]int{}
	var mu sync.Mutex
	count := func(name string) scheduler.HandlerFunc {
		return func(context.Context, clock.Components) error {
			mu.Lock()
			defer mu.Unlock()
			counts[name]++
			return nil
		}
	}

	s := newScheduler(t, map[string]string{"00:00": "midnight"})
	for _, event := range []string{"minute", "hour", "day"} {
		if err := s.On(event, event, count(event)); err != nil {
			t.Fatalf("On(%s): %v", event, err)
		}
	}
	s.Register("midnight", count("midnight"))

	start := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	s.Prime(start)
	for i := 1; i <= 86400; i++ {
		s.Step(context.Background(), start.Add(time.Duration(i)*time.Second))
	}

	want := map[string]int{"minute": 1440, "hour": 24, "day": 1, "midnight": 1}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
}

func TestSkippedBoundariesAreNotReplayed(t *testing.T) {
	var hours atomic.Int32
	s := newScheduler(t, nil)
	if err := s.On("hour", "count", func(context.Context, clock.Components) error {
		hours.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("On: %v", err)
	}
	s.Prime(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	s.Step(context.Background(), time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC))
	if hours.Load() != 1 {
		t.Fatalf("hour dispatched %d times, want 1", hours.Load())
	}
}

func TestBuiltinAndMappedHandlersBothFire(t *testing.T) {
	var order []string
	s := newScheduler(t, map[string]string{"hour": "mapped"})
	if err := s.On("hour", "builtin", func(context.Context, clock.Components) error {
		order = append(order, "builtin")
		return nil
	}); err != nil {
		t.Fatalf("On: %v", err)
	}
	s.Register("mapped", func(_ context.Context, now clock.Components) error {
		order = append(order, "mapped@"+now.HH)
		return nil
	})

	s.Dispatch(context.Background(), "hour", clock.Decompose(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)))
	if want := []string{"builtin", "mapped@05"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	order = nil
	s.Dispatch(context.Background(), "day", clock.Decompose(time.Now()))
	if len(order) != 0 {
		t.Fatalf("expected unmapped event to be a no-op, got %v", order)
	}
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	observer := &recordingObserver{}
	var ran atomic.Bool
	s := newScheduler(t, map[string]string{"minute": "after"}, scheduler.WithObserver(observer))
	if err := s.On("minute", "panics", func(context.Context, clock.Components) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("On: %v", err)
	}
	if err := s.On("minute", "fails", func(context.Context, clock.Components) error {
		return errors.New("nope")
	}); err != nil {
		t.Fatalf("On: %v", err)
	}
	s.Register("after", func(context.Context, clock.Components) error {
		ran.Store(true)
		return nil
	})

	s.Prime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Step(context.Background(), time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))

	if !ran.Load() {
		t.Fatal("expected mapped handler to run after failing built-ins")
	}
	if want := []string{"minute/panics", "minute/fails"}; !reflect.DeepEqual(observer.failures, want) {
		t.Fatalf("failures = %v, want %v", observer.failures, want)
	}
	if observer.ticks != 1 {
		t.Fatalf("ticks = %d, want 1", observer.ticks)
	}
}

func TestValidateReportsUnregisteredHandlers(t *testing.T) {
	s := newScheduler(t, map[string]string{"00:00": "missing"})
	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	s.Register("missing", func(context.Context, clock.Components) error { return nil })
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewRejectsUnknownEvents(t *testing.T) {
	if _, err := scheduler.New(map[string]string{"noon": "x"}); !errors.Is(err, scheduler.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	var mu sync.Mutex
	current := time.Date(2024, 1, 1, 8, 0, 30, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(30 * time.Second)
		return current
	}

	minutes := make(chan struct{}, 16)
	s := newScheduler(t, nil, scheduler.WithClock(now), scheduler.WithInterval(5*time.Millisecond))
	if err := s.On("minute", "count", func(context.Context, clock.Components) error {
		select {
		case minutes <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-minutes:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a minute event")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
