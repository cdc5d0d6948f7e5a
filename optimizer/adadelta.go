package optimizer

// AdaDelta optimizer constants.
const (
	AdaDeltaRho     = 0.95
	AdaDeltaEpsilon = 1e-8
)

// NewAdaDeltaConfig returns AdaDelta with rho 0.95.
func NewAdaDeltaConfig(learningRate float64) Config {
	return Config{
		Kind:         AdaDelta,
		LearningRate: learningRate,
		Rho:          AdaDeltaRho,
		Epsilon:      AdaDeltaEpsilon,
	}
}
