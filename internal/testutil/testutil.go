// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers and synthetic device clock
// traces so the translator, analysis and replay tests exercise the same
// data.
package testutil

import (
	"math"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertWithin fails the test if got differs from want by more than tol.
func AssertWithin(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("%s = %.9f, want %.9f ± %g", name, got, want, tol)
	}
}
