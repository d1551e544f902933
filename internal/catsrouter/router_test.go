package catsrouter

import "testing"

func intPtr(v int) *int { return &v }

func TestWildcardLookup(t *testing.T) {
	r := NewRouter()
	if err := r.Register(HandlerItem{ID: 1, Name: "ping"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	item, ok := r.Lookup(1, 7)
	if !ok || item.Name != "ping" {
		t.Fatalf("Lookup = %+v, %v", item, ok)
	}
}

func TestVersionRangeClosesOpenEnd(t *testing.T) {
	r := NewRouter()
	if err := r.Register(HandlerItem{ID: 2, Name: "v1", Version: intPtr(1)}); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	if err := r.Register(HandlerItem{ID: 2, Name: "v3", Version: intPtr(3)}); err != nil {
		t.Fatalf("register v3: %v", err)
	}

	item, ok := r.Lookup(2, 2)
	if !ok || item.Name != "v1" {
		t.Fatalf("Lookup(2) = %+v, %v, want v1", item, ok)
	}
	item, ok = r.Lookup(2, 3)
	if !ok || item.Name != "v3" {
		t.Fatalf("Lookup(3) = %+v, %v, want v3", item, ok)
	}
	if _, ok := r.Lookup(2, 0); ok {
		t.Fatal("Lookup(0) should miss, version range starts at 1")
	}
}

func TestOverlappingVersionsRejected(t *testing.T) {
	r := NewRouter()
	if err := r.Register(HandlerItem{ID: 3, Version: intPtr(1), EndVersion: intPtr(5)}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(HandlerItem{ID: 3, Version: intPtr(3)}); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestVersionedHandlerCannotJoinWildcard(t *testing.T) {
	r := NewRouter()
	if err := r.Register(HandlerItem{ID: 4}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(HandlerItem{ID: 4, Version: intPtr(1)}); err == nil {
		t.Fatal("expected wildcard-mixing error")
	}
}

func TestUnknownHandlerLookupMisses(t *testing.T) {
	r := NewRouter()
	if _, ok := r.Lookup(99, 1); ok {
		t.Fatal("expected miss for unregistered handler id")
	}
}
