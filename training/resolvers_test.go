package training

import (
	"errors"
	"testing"

	"github.com/tsawler/go-htr/optimizer"
)

var unknownNames = []string{"", "CTC", "ctc ", "cross_entropy", "label-error-rate", "greedy", "sgd"}

func TestResolversAcceptSupportedNames(t *testing.T) {
	for _, name := range SupportedLosses() {
		if _, err := ResolveLoss(name); err != nil {
			t.Errorf("ResolveLoss(%q) failed: %v", name, err)
		}
	}
	for _, name := range SupportedMetrics() {
		if _, err := ResolveMetric(name); err != nil {
			t.Errorf("ResolveMetric(%q) failed: %v", name, err)
		}
	}
	for _, name := range SupportedDecoders() {
		if _, err := ResolveDecoder(name); err != nil {
			t.Errorf("ResolveDecoder(%q) failed: %v", name, err)
		}
	}
}

func TestResolversRejectUnknownNames(t *testing.T) {
	for _, name := range unknownNames {
		t.Run("loss "+name, func(t *testing.T) {
			loss, err := ResolveLoss(name)
			var e *UnsupportedLossError
			if !errors.As(err, &e) || e.Name != name {
				t.Fatalf("expected UnsupportedLossError for %q, got %v", name, err)
			}
			if loss.Compute != nil {
				t.Error("a failed resolution returned a usable loss")
			}
			if !errors.Is(err, ErrUnsupportedLoss) {
				t.Error("expected errors.Is to match ErrUnsupportedLoss")
			}
		})

		t.Run("metric "+name, func(t *testing.T) {
			metric, err := ResolveMetric(name)
			var e *UnsupportedMetricError
			if !errors.As(err, &e) || e.Name != name {
				t.Fatalf("expected UnsupportedMetricError for %q, got %v", name, err)
			}
			if metric.Compute != nil {
				t.Error("a failed resolution returned a usable metric")
			}
		})

		t.Run("decoder "+name, func(t *testing.T) {
			decoder, err := ResolveDecoder(name)
			var e *UnsupportedDecoderError
			if !errors.As(err, &e) || e.Name != name {
				t.Fatalf("expected UnsupportedDecoderError for %q, got %v", name, err)
			}
			if decoder.Decode != nil {
				t.Error("a failed resolution returned a usable decoder")
			}
		})

		t.Run("optimizer "+name, func(t *testing.T) {
			_, err := optimizer.Resolve(name, 0.01)
			var e *optimizer.UnsupportedOptimizerError
			if !errors.As(err, &e) || e.Name != name {
				t.Fatalf("expected UnsupportedOptimizerError for %q, got %v", name, err)
			}
		})
	}
}

func TestResolveMetricsIsASet(t *testing.T) {
	metrics, err := ResolveMetrics([]string{"label_error_rate", "label_error_rate"})
	if err != nil {
		t.Fatalf("ResolveMetrics failed: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Name() != "label_error_rate" {
		t.Errorf("expected a single label_error_rate, got %v", metrics)
	}

	if _, err := ResolveMetrics([]string{"label_error_rate", "accuracy"}); !errors.Is(err, ErrUnsupportedMetric) {
		t.Errorf("expected unsupported metric error, got %v", err)
	}
}

func TestMetricAccumulator(t *testing.T) {
	acc := NewMetricAccumulator()
	acc.Add(map[string]float64{"label_error_rate": 0.5})
	acc.Add(map[string]float64{"label_error_rate": 0.25})
	acc.Add(map[string]float64{"label_error_rate": 0})

	if acc.Count("label_error_rate") != 3 {
		t.Errorf("expected 3 values, got %d", acc.Count("label_error_rate"))
	}
	if got := acc.Means()["label_error_rate"]; got != 0.25 {
		t.Errorf("expected mean 0.25, got %v", got)
	}
}
