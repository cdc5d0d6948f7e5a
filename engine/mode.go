package engine

import (
	"fmt"
	"strings"
)

// ExecutionMode selects which outputs an invocation produces and whether
// training-sensitive layers are active. It is passed explicitly to every call
// that needs it.
type ExecutionMode int

const (
	ModeTrain ExecutionMode = iota
	ModeEval
	ModePredict
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeEval:
		return "eval"
	case ModePredict:
		return "predict"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// IsTraining reports whether dropout and batch statistics updates are active.
func (m ExecutionMode) IsTraining() bool {
	return m == ModeTrain
}

// Valid reports whether m is one of the three modes.
func (m ExecutionMode) Valid() bool {
	return m >= ModeTrain && m <= ModePredict
}

// ParseExecutionMode accepts "train", "eval" or "predict" (case-insensitive).
// "infer" is accepted as an alias for predict.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "train":
		return ModeTrain, nil
	case "eval", "evaluate":
		return ModeEval, nil
	case "predict", "infer":
		return ModePredict, nil
	default:
		return 0, fmt.Errorf("unknown execution mode %q", s)
	}
}

// MarshalText encodes the mode by name.
func (m ExecutionMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid execution mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *ExecutionMode) UnmarshalText(text []byte) error {
	parsed, err := ParseExecutionMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
