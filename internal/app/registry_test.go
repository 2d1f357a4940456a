package app

import (
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		Config:    testConfig(),
		Providers: testProviders(),
		Transport: newFakeTransport(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(t)

	r.Add(s)
	if got := r.Get(s.ID()); got != s {
		t.Fatal("Get did not return the added session")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}

	r.Remove(s.ID())
	if r.Get(s.ID()) != nil {
		t.Error("session still present after Remove")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(t)

	r.Add(s)
	r.Add(s)
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestRegistryRemoveUnknownIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Remove("no-such-id")
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestRegistryGetUnknownReturnsNil(t *testing.T) {
	r := NewRegistry()
	if r.Get("no-such-id") != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	a := newTestSession(t)
	b := newTestSession(t)
	r.Add(a)
	r.Add(b)

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("list length = %d, want 2", len(infos))
	}
	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.ID] = true
	}
	if !seen[a.ID()] || !seen[b.ID()] {
		t.Errorf("list missing sessions: %v", infos)
	}
}

func TestRegistryDrainAllCancelsEverySession(t *testing.T) {
	r := NewRegistry()
	a := newTestSession(t)
	b := newTestSession(t)
	r.Add(a)
	r.Add(b)

	done := make(chan struct{})
	go func() {
		r.DrainAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("DrainAll did not return")
	}

	for _, s := range []*Session{a, b} {
		select {
		case <-s.Done():
		default:
			t.Errorf("session %s not cancelled", s.ID())
		}
	}
}
