package training

import (
	"github.com/tsawler/go-htr/ctc"
	"github.com/tsawler/go-htr/tensor"
)

// DecoderType represents the supported output decoders
type DecoderType int

const (
	CTCBeamSearchDecoder DecoderType = iota
)

var decoderNames = [...]string{
	CTCBeamSearchDecoder: "ctc_beam_search",
}

func (dt DecoderType) String() string {
	if dt < 0 || int(dt) >= len(decoderNames) {
		return "unknown"
	}
	return decoderNames[dt]
}

// DecoderFunc turns aligned logits into label sequences.
type DecoderFunc func(b tensor.Backend, logits *ctc.Alignment, seqLens []int32, beamWidth, topPaths int) (*ctc.Decoded, error)

var decoderFuncs = [...]DecoderFunc{
	CTCBeamSearchDecoder: ctc.Decode,
}

// Decoder is a resolved output decoder.
type Decoder struct {
	Type   DecoderType
	Decode DecoderFunc
}

// ResolveDecoder maps an output decoder name to its implementation. Matching is exact.
func ResolveDecoder(name string) (Decoder, error) {
	for i, n := range decoderNames {
		if n == name {
			return Decoder{Type: DecoderType(i), Decode: decoderFuncs[i]}, nil
		}
	}
	return Decoder{}, &UnsupportedDecoderError{Name: name}
}

// SupportedDecoders lists every output decoder name.
func SupportedDecoders() []string {
	return append([]string(nil), decoderNames[:]...)
}
