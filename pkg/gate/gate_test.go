package gate

import (
	"sync"
	"testing"
	"time"
)

func TestGate_StartsUnset(t *testing.T) {
	g := New()
	if g.State() != Unset {
		t.Errorf("State: got %v, want unset", g.State())
	}
	if g.Enabled() {
		t.Error("Enabled: got true for a fresh gate")
	}
}

func TestGate_ArmOnce(t *testing.T) {
	g := New()

	if !g.ArmOnce() {
		t.Fatal("first ArmOnce did not arm")
	}
	if !g.Enabled() {
		t.Fatal("gate not enabled after ArmOnce")
	}

	g.TargetReached()
	if g.ArmOnce() {
		t.Error("second ArmOnce armed again")
	}
	if g.State() != Disabled {
		t.Errorf("State: got %v, want disabled", g.State())
	}
}

func TestGate_ArmOnceOnlyFromUnset(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(g *Gate)
		want    State
	}{
		{name: "stopped before ready", prepare: func(g *Gate) { g.Stop() }, want: Disabled},
		{name: "started then target reached", prepare: func(g *Gate) { g.Start(); g.TargetReached() }, want: Disabled},
		{name: "already started", prepare: func(g *Gate) { g.Start() }, want: Enabled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			tc.prepare(g)

			if g.ArmOnce() {
				t.Error("ArmOnce reported arming a gate that was already set")
			}
			if g.State() != tc.want {
				t.Errorf("State: got %v, want %v", g.State(), tc.want)
			}

			// the one-shot is spent even though it changed nothing
			g.mu.Lock()
			armed := g.armed
			g.mu.Unlock()
			if !armed {
				t.Error("one-shot not consumed")
			}
		})
	}
}

func TestGate_Transitions(t *testing.T) {
	g := New()

	var mu sync.Mutex
	var log []Source
	g.OnChange(func(from, to State, src Source) {
		mu.Lock()
		log = append(log, src)
		mu.Unlock()
	})

	g.Start()
	g.Start() // no-op, already enabled
	g.Stop()
	g.Start()
	g.TargetReached()

	want := []Source{SourceStart, SourceStop, SourceStart, SourceTarget}
	if len(log) != len(want) {
		t.Fatalf("transitions: got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, log[i], want[i])
		}
	}
}

func TestGate_ChangedWakesWaiters(t *testing.T) {
	g := New()
	ch := g.Changed()

	select {
	case <-ch:
		t.Fatal("Changed closed before any transition")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Start()
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Start")
	}

	if g.Changed() == ch {
		t.Error("Changed returned the closed channel after a transition")
	}
}

func TestGate_ConcurrentWriters(t *testing.T) {
	g := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); g.Start() }()
		go func() { defer wg.Done(); g.Stop() }()
		go func() { defer wg.Done(); _ = g.Enabled() }()
	}
	wg.Wait()

	if s := g.State(); s != Enabled && s != Disabled {
		t.Errorf("State: got %v after start/stop storm", s)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{Unset: "unset", Enabled: "enabled", Disabled: "disabled"}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d: got %s, want %s", s, s.String(), want)
		}
	}
}
