package training

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedLoss    = errors.New("unsupported loss")
	ErrUnsupportedMetric  = errors.New("unsupported metric")
	ErrUnsupportedDecoder = errors.New("unsupported output decoder")

	// ErrMissingLabels is returned when train or eval is invoked without labels.
	ErrMissingLabels = errors.New("labels are required in train and eval modes")
)

// UnsupportedLossError carries a loss name that is not in the closed set.
type UnsupportedLossError struct {
	Name string
}

func (e *UnsupportedLossError) Error() string {
	return fmt.Sprintf("%s loss not implemented", e.Name)
}

func (e *UnsupportedLossError) Is(target error) bool { return target == ErrUnsupportedLoss }

// UnsupportedMetricError carries a metric name that is not in the closed set.
type UnsupportedMetricError struct {
	Name string
}

func (e *UnsupportedMetricError) Error() string {
	return fmt.Sprintf("%s metric not implemented", e.Name)
}

func (e *UnsupportedMetricError) Is(target error) bool { return target == ErrUnsupportedMetric }

// UnsupportedDecoderError carries an output decoder name that is not in the closed set.
type UnsupportedDecoderError struct {
	Name string
}

func (e *UnsupportedDecoderError) Error() string {
	return fmt.Sprintf("%s output decoder not implemented", e.Name)
}

func (e *UnsupportedDecoderError) Is(target error) bool { return target == ErrUnsupportedDecoder }
