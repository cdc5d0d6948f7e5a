// Package ctc adapts between the network and the connectionist temporal
// classification primitives of the tensor runtime: label sparsification,
// output layout, beam-search decoding and label error rate.
package ctc

import (
	"fmt"

	"github.com/tsawler/go-htr/tensor"
)

// DefaultIgnoreToken pads dense label rows past each example's true length.
const DefaultIgnoreToken int32 = -1

// ToSparse converts padded dense labels to the sparse form. The trailing run of
// ignore tokens is stripped from every row. An ignore token followed by a real
// label is rejected because it cannot be told apart from padding.
// The dense shape is (rows, widest row).
func ToSparse(dense [][]int32, ignore int32) (tensor.SparseTensor, error) {
	width := 0
	for _, row := range dense {
		if len(row) > width {
			width = len(row)
		}
	}

	sp := tensor.SparseTensor{DenseShape: [2]int{len(dense), width}}
	for i, row := range dense {
		n := trueLength(row, ignore)
		for j := 0; j < n; j++ {
			if row[j] == ignore {
				return tensor.SparseTensor{}, fmt.Errorf("example %d: ignore token %d at position %d precedes label data", i, ignore, j)
			}
			sp.Indices = append(sp.Indices, [2]int{i, j})
			sp.Values = append(sp.Values, row[j])
		}
	}
	return sp, nil
}

func trueLength(row []int32, ignore int32) int {
	n := len(row)
	for n > 0 && row[n-1] == ignore {
		n--
	}
	return n
}

// Lengths returns the number of labels of every example in sp.
func Lengths(sp tensor.SparseTensor) ([]int, error) {
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	lengths := make([]int, sp.DenseShape[0])
	for i, idx := range sp.Indices {
		if idx[1] != lengths[idx[0]] {
			return nil, fmt.Errorf("sparse entry %d %v is not contiguous", i, idx)
		}
		lengths[idx[0]]++
	}
	return lengths, nil
}

// ToDense materializes sp as one row per example, each truncated at the
// example's true length.
func ToDense(sp tensor.SparseTensor) ([][]int32, error) {
	lengths, err := Lengths(sp)
	if err != nil {
		return nil, err
	}
	out := make([][]int32, len(lengths))
	for i, n := range lengths {
		out[i] = make([]int32, 0, n)
	}
	for i, idx := range sp.Indices {
		out[idx[0]] = append(out[idx[0]], sp.Values[i])
	}
	return out, nil
}

// ToPaddedDense materializes sp as a rectangular batch of the dense shape,
// filling positions past each example's length with fill.
func ToPaddedDense(sp tensor.SparseTensor, fill int32) ([][]int32, error) {
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	out := make([][]int32, sp.DenseShape[0])
	for i := range out {
		row := make([]int32, sp.DenseShape[1])
		for j := range row {
			row[j] = fill
		}
		out[i] = row
	}
	for i, idx := range sp.Indices {
		out[idx[0]][idx[1]] = sp.Values[i]
	}
	return out, nil
}

// CheckClasses verifies every label is a real class. The last class index
// (numClasses-1) is the CTC blank and may not appear in labels.
func CheckClasses(sp tensor.SparseTensor, numClasses int) error {
	if numClasses < 2 {
		return fmt.Errorf("num_classes must be at least 2 (one label and the blank), got %d", numClasses)
	}
	for i, v := range sp.Values {
		if v < 0 || int(v) >= numClasses-1 {
			return fmt.Errorf("label %d at %v outside [0, %d)", v, sp.Indices[i], numClasses-1)
		}
	}
	return nil
}
