package engine

import (
	"reflect"
	"testing"

	"github.com/tsawler/go-htr/layers"
)

func TestDownsample(t *testing.T) {
	tests := []struct {
		name     string
		lengths  []int32
		stride   int
		rounding layers.Rounding
		expect   []int32
	}{
		{"floor even", []int32{64, 10}, 2, layers.RoundFloor, []int32{32, 5}},
		{"floor odd", []int32{75, 3}, 2, layers.RoundFloor, []int32{37, 1}},
		{"ceil odd", []int32{75, 3}, 2, layers.RoundCeil, []int32{38, 2}},
		{"stride one is identity", []int32{7, 0}, 1, layers.RoundCeil, []int32{7, 0}},
		{"stride three", []int32{10, 9}, 3, layers.RoundCeil, []int32{4, 3}},
		{"nil stays nil", nil, 2, layers.RoundFloor, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Downsample(tt.lengths, tt.stride, tt.rounding)
			if err != nil {
				t.Fatalf("Downsample failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expect) {
				t.Errorf("expected %v, got %v", tt.expect, got)
			}
		})
	}

	t.Run("input is not modified", func(t *testing.T) {
		in := []int32{9, 5}
		if _, err := Downsample(in, 2, layers.RoundCeil); err != nil {
			t.Fatalf("Downsample failed: %v", err)
		}
		if !reflect.DeepEqual(in, []int32{9, 5}) {
			t.Errorf("input mutated to %v", in)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		if _, err := Downsample([]int32{4}, 0, layers.RoundFloor); err == nil {
			t.Error("expected error for zero stride")
		}
		if _, err := Downsample([]int32{-1}, 2, layers.RoundFloor); err == nil {
			t.Error("expected error for negative length")
		}
	})
}

// TestLengthPropagation checks every intermediate length of k floor pools
// followed by m ceil pools, each with stride 2.
func TestLengthPropagation(t *testing.T) {
	tests := []struct {
		initial int32
		floor   int
		ceil    int
		expect  []int32
	}{
		{3200, 4, 2, []int32{1600, 800, 400, 200, 100, 50}},
		{75, 2, 2, []int32{37, 18, 9, 5}},
		{101, 1, 2, []int32{50, 25, 13}},
		{1000, 3, 2, []int32{500, 250, 125, 63, 32}},
		{3, 0, 3, []int32{2, 1, 1}},
		{7, 3, 0, []int32{3, 1, 0}},
	}

	for _, tt := range tests {
		tr := &Tracker{}
		lengths := []int32{tt.initial}
		var got []int32
		for i := 0; i < tt.floor+tt.ceil; i++ {
			rounding := layers.RoundFloor
			if i >= tt.floor {
				rounding = layers.RoundCeil
			}
			var err error
			lengths, err = tr.Downsample(lengths, 2, rounding)
			if err != nil {
				t.Fatalf("L=%d: Downsample failed: %v", tt.initial, err)
			}
			got = append(got, lengths[0])
		}
		if !reflect.DeepEqual(got, tt.expect) {
			t.Errorf("L=%d k=%d m=%d: expected %v, got %v", tt.initial, tt.floor, tt.ceil, tt.expect, got)
		}
		if tr.Applied() != tt.floor+tt.ceil {
			t.Errorf("expected %d tracker calls, got %d", tt.floor+tt.ceil, tr.Applied())
		}
	}
}
