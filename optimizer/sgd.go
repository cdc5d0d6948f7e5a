package optimizer

// Momentum optimizer constants.
const (
	MomentumCoefficient = 0.9
	MomentumNesterov    = true
)

// NewMomentumConfig returns SGD with Nesterov momentum 0.9.
func NewMomentumConfig(learningRate float64) Config {
	return Config{
		Kind:         Momentum,
		LearningRate: learningRate,
		Momentum:     MomentumCoefficient,
		Nesterov:     MomentumNesterov,
	}
}
