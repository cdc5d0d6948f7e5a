package training

import (
	"github.com/tsawler/go-htr/ctc"
	"github.com/tsawler/go-htr/tensor"
)

// LossType represents the supported training objectives
type LossType int

const (
	CTCLoss LossType = iota
)

var lossNames = [...]string{
	CTCLoss: "ctc",
}

func (lt LossType) String() string {
	if lt < 0 || int(lt) >= len(lossNames) {
		return "unknown"
	}
	return lossNames[lt]
}

// LossFunc computes a scalar loss from aligned logits and sparse labels.
type LossFunc func(b tensor.Backend, logits *ctc.Alignment, labels tensor.SparseTensor, seqLens []int32) (tensor.Tensor, error)

var lossFuncs = [...]LossFunc{
	CTCLoss: ctc.Loss,
}

// Loss is a resolved loss.
type Loss struct {
	Type    LossType
	Compute LossFunc
}

// ResolveLoss maps a loss name to its implementation. Matching is exact.
func ResolveLoss(name string) (Loss, error) {
	for i, n := range lossNames {
		if n == name {
			return Loss{Type: LossType(i), Compute: lossFuncs[i]}, nil
		}
	}
	return Loss{}, &UnsupportedLossError{Name: name}
}

// SupportedLosses lists every loss name.
func SupportedLosses() []string {
	return append([]string(nil), lossNames[:]...)
}
