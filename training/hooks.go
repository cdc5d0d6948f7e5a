package training

import (
	"log"
)

// Hook runs after a training step has been applied.
type Hook interface {
	AfterStep(step int) error
}

// MetricLoggingHook logs a metric value every EveryNSteps steps.
type MetricLoggingHook struct {
	Name        string
	Value       float64
	EveryNSteps int
	logger      *log.Logger
}

// NewMetricLoggingHook creates a hook that logs through logger, or the standard
// logger when nil.
func NewMetricLoggingHook(name string, value float64, everyNSteps int, logger *log.Logger) *MetricLoggingHook {
	if logger == nil {
		logger = log.Default()
	}
	if everyNSteps < 1 {
		everyNSteps = 1
	}
	return &MetricLoggingHook{Name: name, Value: value, EveryNSteps: everyNSteps, logger: logger}
}

// AfterStep logs when step is a multiple of EveryNSteps.
func (h *MetricLoggingHook) AfterStep(step int) error {
	if step%h.EveryNSteps != 0 {
		return nil
	}
	h.logger.Printf("step %d: %s = %.4f", step, h.Name, h.Value)
	return nil
}
