package core

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewLocationRejectsOutOfRange(t *testing.T) {
	cases := []float64{-0.0001, 1.0, 1.5, math.NaN()}
	for _, v := range cases {
		if _, err := NewLocation(v); err == nil {
			t.Fatalf("expected error for location %v", v)
		}
	}
}

func TestNewLocationAcceptsBoundary(t *testing.T) {
	if _, err := NewLocation(0.0); err != nil {
		t.Fatalf("0.0 should be valid: %v", err)
	}
	if _, err := NewLocation(0.999999); err != nil {
		t.Fatalf("0.999999 should be valid: %v", err)
	}
}

func TestLocationDistanceWrapsAroundCircle(t *testing.T) {
	a := mustLocation(t, 0.05)
	b := mustLocation(t, 0.95)
	d := a.Distance(b)
	if math.Abs(d-0.1) > 1e-9 {
		t.Fatalf("expected wraparound distance ~0.1, got %v", d)
	}
}

func TestLocationDistanceIsSymmetric(t *testing.T) {
	a := mustLocation(t, 0.1)
	b := mustLocation(t, 0.7)
	if a.Distance(b) != b.Distance(a) {
		t.Fatalf("distance should be symmetric")
	}
}

func TestLocationDistanceBoundedByHalf(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a := RandomLocation(rnd)
		b := RandomLocation(rnd)
		if d := a.Distance(b); d < 0 || d > 0.5+1e-9 {
			t.Fatalf("distance %v out of [0, 0.5]", d)
		}
	}
}

func TestRandomLocationDeterministicWithSeed(t *testing.T) {
	r1 := rand.New(rand.NewSource(42))
	r2 := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		if RandomLocation(r1) != RandomLocation(r2) {
			t.Fatalf("same seed should produce identical sequences")
		}
	}
}
