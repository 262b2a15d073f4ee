package main

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestWitnessPoolSelect(t *testing.T) {
	p := NewWitnessPool(10)

	if got := p.Select("A", "B", "self"); got != "self" {
		t.Errorf("Expected node itself for an empty pool, got %s", got)
	}

	p.Add(Witness{Address: "A"})
	p.Add(Witness{Address: "B"})
	if got := p.Select("A", "B", "self"); got != "self" {
		t.Errorf("Expected node itself when only parties are pooled, got %s", got)
	}

	p.Add(Witness{Address: "W1"})
	p.Add(Witness{Address: "W2"})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got := p.Select("A", "B", "self")
		if got == "A" || got == "B" || got == "self" {
			t.Fatalf("Selected ineligible witness %s", got)
		}
		seen[got] = true
	}
	if !seen["W1"] || !seen["W2"] {
		t.Errorf("Expected both eligible witnesses to be selected, got %v", seen)
	}
}

func TestWitnessPoolAdd(t *testing.T) {
	p := NewWitnessPool(3)

	added, err := p.Add(Witness{Address: "W1", Stake: 1, Reputation: 1})
	if err != nil || !added {
		t.Fatalf("Expected witness added, got added=%v err=%v", added, err)
	}

	added, err = p.Add(Witness{Address: "W1", Stake: 99})
	if err != nil || added {
		t.Errorf("Expected duplicate address to be a no-op, got added=%v err=%v", added, err)
	}
	if p.List()[0].Stake != 1 {
		t.Error("Expected the original entry to be kept")
	}

	for i := 2; i <= 5; i++ {
		p.Add(Witness{Address: fmt.Sprintf("W%d", i)})
	}
	list := p.List()
	if len(list) != 3 {
		t.Fatalf("Expected pool capped at 3, got %d", len(list))
	}
	for i, want := range []string{"W3", "W4", "W5"} {
		if list[i].Address != want {
			t.Errorf("Expected %s at position %d, got %s", want, i, list[i].Address)
		}
	}
}

func TestWitnessPoolRejectsInvalid(t *testing.T) {
	p := NewWitnessPool(3)

	tests := []struct {
		name string
		w    Witness
	}{
		{"empty address", Witness{}},
		{"whitespace address", Witness{Address: "a b"}},
		{"negative stake", Witness{Address: "W", Stake: -1}},
		{"negative reputation", Witness{Address: "W", Reputation: -0.1}},
		{"NaN stake", Witness{Address: "W", Stake: math.NaN()}},
		{"infinite reputation", Witness{Address: "W", Reputation: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Add(tt.w); !errors.Is(err, ErrInvalidWitness) {
				t.Errorf("Expected ErrInvalidWitness, got %v", err)
			}
		})
	}

	if p.Len() != 0 {
		t.Errorf("Expected empty pool, got %d", p.Len())
	}
}
