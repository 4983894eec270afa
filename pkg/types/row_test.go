package types

import (
	"errors"
	"testing"
	"time"
)

func TestFactRowValidAt(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	closed := &FactRow{ValidFrom: from, ValidTo: &to}
	open := &FactRow{ValidFrom: from}

	if closed.IsOpen() {
		t.Fatal("closed row reported open")
	}
	if !open.IsOpen() {
		t.Fatal("open row reported closed")
	}
	if !closed.ValidAt(from) {
		t.Fatal("row must be valid at its start")
	}
	if closed.ValidAt(to) {
		t.Fatal("row must not be valid at its end")
	}
	if closed.ValidAt(from.Add(-time.Second)) {
		t.Fatal("row must not be valid before its start")
	}
	if !open.ValidAt(to.Add(365 * 24 * time.Hour)) {
		t.Fatal("open row must be valid in the future")
	}
}

func TestRefValidate(t *testing.T) {
	if err := Ref("obj-1").Validate(); err != nil {
		t.Fatalf("expected valid ref, got %v", err)
	}
	for _, r := range []Ref{"", "a b", "tab\there"} {
		if err := r.Validate(); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("expected ErrInvalidRef for %q, got %v", r, err)
		}
	}
}

func TestChangeObjects(t *testing.T) {
	cur := &Object{Ref: "a"}
	prev := &Object{Ref: "a"}

	if got := (Change{Kind: ChangeCreate, Object: cur}).Objects(); len(got) != 1 || got[0] != cur {
		t.Fatalf("unexpected objects for create: %v", got)
	}
	if got := (Change{Kind: ChangeUpdate, Object: cur, Previous: prev}).Objects(); len(got) != 2 || got[1] != prev {
		t.Fatalf("unexpected objects for update: %v", got)
	}
	if got := (Change{Kind: ChangeDelete, Previous: prev}).Objects(); len(got) != 1 || got[0] != prev {
		t.Fatalf("unexpected objects for delete: %v", got)
	}
}

func TestRebuildRequestConstructors(t *testing.T) {
	full := FullRebuild("projects", false)
	if !full.IsFull() || full.ChangesExpected {
		t.Fatalf("unexpected full rebuild request: %+v", full)
	}
	one := ObjectRebuild("projects", "p1")
	if one.IsFull() || !one.ChangesExpected || one.Ref != "p1" {
		t.Fatalf("unexpected object rebuild request: %+v", one)
	}
}
