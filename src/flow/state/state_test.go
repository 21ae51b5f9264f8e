package state

import (
	"sync"
	"testing"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Created:   "Created",
		Running:   "Running",
		Suspended: "Suspended",
		Completed: "Completed",
		Errored:   "Errored",
		Removed:   "Removed",
		State(42): "Unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("String() of %d should be %s, not %s", s, want, s.String())
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{Created, Running, Suspended, Errored} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []State{Completed, Removed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestManagerCompareAndSet(t *testing.T) {
	var m Manager
	if m.GetState() != Created {
		t.Fatalf("zero Manager should be Created, not %s", m.GetState())
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.CompareAndSet(Created, Running) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("exactly one goroutine should win the transition, got %d", winners)
	}
	if m.GetState() != Running {
		t.Fatalf("state should be Running, not %s", m.GetState())
	}

	m.SetState(Errored)
	if m.GetState() != Errored {
		t.Fatalf("state should be Errored, not %s", m.GetState())
	}
}
