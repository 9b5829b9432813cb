package lifecycle

import "testing"

func TestPortAllocator_Idempotent(t *testing.T) {
	a := NewPortAllocator(30000)
	p1, err := a.Allocate("myapp", "dep1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	p2, err := a.Allocate("myapp", "dep1")
	if err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if p1 != p2 {
		t.Errorf("expected stable allocation, got %d then %d", p1, p2)
	}
}

func TestPortAllocator_DistinctKeys(t *testing.T) {
	a := NewPortAllocator(30000)
	p1, _ := a.Allocate("myapp", "dep1")
	p2, _ := a.Allocate("myapp", "dep2")
	if p1 == p2 {
		t.Errorf("expected distinct ports for distinct deployments, both got %d", p1)
	}
}

func TestPortAllocator_ReleaseFreesSlot(t *testing.T) {
	a := NewPortAllocator(30000)
	p1, _ := a.Allocate("myapp", "dep1")
	a.Release("myapp", "dep1")
	if _, ok := a.byKey[key("myapp", "dep1")]; ok {
		t.Errorf("expected release to clear assignment for port %d", p1)
	}
}
