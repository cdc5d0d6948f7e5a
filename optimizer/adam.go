package optimizer

// Adam optimizer constants.
const (
	AdamBeta1   = 0.9
	AdamBeta2   = 0.999
	AdamEpsilon = 1e-8
)

// NewAdamConfig returns Adam with the standard moment decays.
func NewAdamConfig(learningRate float64) Config {
	return Config{
		Kind:         Adam,
		LearningRate: learningRate,
		Beta1:        AdamBeta1,
		Beta2:        AdamBeta2,
		Epsilon:      AdamEpsilon,
	}
}
