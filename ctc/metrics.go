package ctc

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-htr/tensor"
)

// EditDistance returns the Levenshtein distance between two label sequences.
func EditDistance(a, b []int32) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// ErrorRates returns the edit distance of each prediction normalized by the
// length of its truth. An empty truth counts as length one.
func ErrorRates(predicted, truth [][]int32) ([]float64, error) {
	if len(predicted) != len(truth) {
		return nil, fmt.Errorf("%d predictions for %d labels", len(predicted), len(truth))
	}
	rates := make([]float64, len(truth))
	for i := range truth {
		n := len(truth[i])
		if n == 0 {
			n = 1
		}
		rates[i] = float64(EditDistance(predicted[i], truth[i])) / float64(n)
	}
	return rates, nil
}

// LabelErrorRate is the mean normalized edit distance over the batch.
func LabelErrorRate(predicted, truth tensor.SparseTensor) (float64, error) {
	p, err := ToDense(predicted)
	if err != nil {
		return 0, fmt.Errorf("predicted labels: %w", err)
	}
	t, err := ToDense(truth)
	if err != nil {
		return 0, fmt.Errorf("true labels: %w", err)
	}
	rates, err := ErrorRates(p, t)
	if err != nil {
		return 0, err
	}
	if len(rates) == 0 {
		return 0, nil
	}
	return stat.Mean(rates, nil), nil
}
