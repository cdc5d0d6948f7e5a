package layers

import "fmt"

// DefaultDropoutRate is the dropout used between blocks of the CNN-MDLSTM preset.
const DefaultDropoutRate = 0.25

// CNNMDLSTM builds the five-block convolution + multidimensional LSTM stack used for
// text-line recognition. Block i uses (2i+1)*startingFilters convolution filters and
// (2i+2)*startingFilters recurrent units. The first three pools floor sequence
// lengths; the last two are the tail pools that need ceiling rounding.
func CNNMDLSTM(startingFilters int) (Architecture, error) {
	if startingFilters <= 0 {
		return nil, fmt.Errorf("starting filter size must be positive, got %d", startingFilters)
	}

	mb := NewModelBuilder()
	for block := 0; block < 5; block++ {
		rounding := RoundFloor
		if block >= 3 {
			rounding = RoundCeil
		}
		mb.AddConv2D(startingFilters*(2*block+1), 3, fmt.Sprintf("conv%d", block+1)).
			AddMaxPool2D(2, 2, rounding, fmt.Sprintf("pool%d", block+1)).
			AddDropout(DefaultDropoutRate, fmt.Sprintf("dropout%da", block+1)).
			AddMDLSTM(startingFilters*(2*block+2), "glstm", fmt.Sprintf("mdlstm%d", block+1)).
			AddDropout(DefaultDropoutRate, fmt.Sprintf("dropout%db", block+1))
	}
	mb.AddCollapseToSequence("collapse")
	return mb.Build()
}
