package utils

import (
	"math/rand/v2"
	"testing"
)

func TestNewSourceDeterministic(t *testing.T) {
	a := rand.New(NewSource(42))
	b := rand.New(NewSource(42))
	for i := 0; i < 50; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("expected identical sequences for equal seeds at draw %d", i)
		}
	}
}

func TestNewSourceDiffersBySeed(t *testing.T) {
	a := rand.New(NewSource(1))
	b := rand.New(NewSource(2))
	same := 0
	for i := 0; i < 20; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same == 20 {
		t.Fatal("expected different sequences for different seeds")
	}
}
