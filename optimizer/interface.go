// Package optimizer resolves optimizer names to their fixed hyperparameter configurations.
// Hyperparameters other than the learning rate are constants per optimizer kind.
package optimizer

import (
	"errors"
	"fmt"
	"sort"
)

// Kind identifies an optimizer family
type Kind int

const (
	Momentum Kind = iota
	Adam
	AdaDelta
	RMSProp
)

func (k Kind) String() string {
	switch k {
	case Momentum:
		return "momentum"
	case Adam:
		return "adam"
	case AdaDelta:
		return "adadelta"
	case RMSProp:
		return "rmsprop"
	default:
		return "unknown"
	}
}

// Config is the resolved optimizer: its kind, the user learning rate and the
// kind's fixed hyperparameters. Fields that do not apply to a kind stay zero.
type Config struct {
	Kind         Kind    `json:"kind"`
	LearningRate float64 `json:"learning_rate"`

	Momentum float64 `json:"momentum,omitempty"`
	Nesterov bool    `json:"nesterov,omitempty"`
	Beta1    float64 `json:"beta1,omitempty"`
	Beta2    float64 `json:"beta2,omitempty"`
	Rho      float64 `json:"rho,omitempty"`
	Decay    float64 `json:"decay,omitempty"`
	Epsilon  float64 `json:"epsilon,omitempty"`
}

// ErrUnsupportedOptimizer matches every *UnsupportedOptimizerError via errors.Is.
var ErrUnsupportedOptimizer = errors.New("optimizer not supported")

// UnsupportedOptimizerError carries the optimizer name that had no match.
type UnsupportedOptimizerError struct {
	Name string
}

func (e *UnsupportedOptimizerError) Error() string {
	return fmt.Sprintf("%s optimizer not supported", e.Name)
}

// Is lets errors.Is(err, ErrUnsupportedOptimizer) match.
func (e *UnsupportedOptimizerError) Is(target error) bool {
	return target == ErrUnsupportedOptimizer
}

// constructors is the closed name table.
var constructors = map[string]func(learningRate float64) Config{
	Momentum.String(): NewMomentumConfig,
	Adam.String():     NewAdamConfig,
	AdaDelta.String(): NewAdaDeltaConfig,
	RMSProp.String():  NewRMSPropConfig,
}

// Resolve maps an optimizer name to its configuration with the given learning rate.
// Lookup is exact; there is no default optimizer.
func Resolve(name string, learningRate float64) (Config, error) {
	ctor, ok := constructors[name]
	if !ok {
		return Config{}, &UnsupportedOptimizerError{Name: name}
	}
	if learningRate <= 0 {
		return Config{}, fmt.Errorf("learning rate must be positive, got %g", learningRate)
	}
	return ctor(learningRate), nil
}

// SupportedNames returns the optimizer names Resolve accepts, sorted.
func SupportedNames() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
