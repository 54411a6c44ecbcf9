package system

import (
	"context"
	"errors"
	"testing"
)

type recordedService struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string
}

func (s recordedService) Name() string { return s.name }

func (s recordedService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s recordedService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return s.stopErr
}

func TestManagerStartStopOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	var events []string

	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recordedService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerStartFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	var events []string

	boom := errors.New("boom")
	if err := m.Register(recordedService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recordedService{name: "b", startErr: boom, events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recordedService{name: "c", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := m.Start(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("expected start failure, got %v", err)
	}

	// a started and was unwound; c never started.
	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}

	// The manager never reached started, so registration stays open.
	if err := m.Register(recordedService{name: "d", events: &events}); err != nil {
		t.Fatalf("register after failed start: %v", err)
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	var events []string

	if err := m.Register(recordedService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recordedService{name: "a", events: &events}); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "late"}); err == nil {
		t.Fatalf("expected registration rejection after start")
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestManagerStopReportsFirstError(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	var events []string

	failA := errors.New("a failed")
	failB := errors.New("b failed")
	_ = m.Register(recordedService{name: "a", stopErr: failA, events: &events})
	_ = m.Register(recordedService{name: "b", stopErr: failB, events: &events})

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Stop runs in reverse, so b fails first and wins; a still gets stopped.
	err := m.Stop(ctx)
	if !errors.Is(err, failB) {
		t.Fatalf("expected b's error, got %v", err)
	}
	if events[len(events)-1] != "stop:a" {
		t.Fatalf("a was not stopped: %v", events)
	}
}
