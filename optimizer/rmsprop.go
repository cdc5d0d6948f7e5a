package optimizer

// RMSProp optimizer constants.
const (
	RMSPropDecay    = 0.9
	RMSPropMomentum = 0.0
	RMSPropEpsilon  = 1e-10
)

// NewRMSPropConfig returns RMSProp without momentum.
func NewRMSPropConfig(learningRate float64) Config {
	return Config{
		Kind:         RMSProp,
		LearningRate: learningRate,
		Decay:        RMSPropDecay,
		Momentum:     RMSPropMomentum,
		Epsilon:      RMSPropEpsilon,
	}
}
