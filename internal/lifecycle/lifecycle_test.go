package lifecycle

import "testing"

func TestStartTransitionsToRunning(t *testing.T) {
	f := New()
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}
	if f.State() != Running {
		t.Errorf("expected Running, got %s", f.State())
	}
}

func TestDoubleStartRejected(t *testing.T) {
	f := New()
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.Start(); err == nil {
		t.Fatal("expected second Start to be rejected")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := New()
	f.Start()
	if err := f.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := f.Stop(); err != nil {
		t.Fatalf("expected idempotent Stop, got error: %v", err)
	}
	if f.State() != Stopped {
		t.Errorf("expected Stopped, got %s", f.State())
	}
}

func TestSubscribeObservesTransitions(t *testing.T) {
	f := New()
	var seen []State
	f.Subscribe(func(s State) { seen = append(seen, s) })
	f.Start()
	f.Stop()

	want := []State{Starting, Running, Stopping, Stopped}
	if len(seen) != len(want) {
		t.Fatalf("got %v transitions, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: got %s want %s", i, seen[i], want[i])
		}
	}
}

func TestFailTransitionsFromAnyState(t *testing.T) {
	f := New()
	f.Start()
	f.Fail()
	if f.State() != Failed {
		t.Errorf("expected Failed, got %s", f.State())
	}
}
