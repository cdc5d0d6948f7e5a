package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tsawler/go-htr/layers"
)

// deterministic makes repeated encodes of equal values byte-identical.
var deterministic = proto.MarshalOptions{Deterministic: true}

// toValue converts any JSON-encodable value to a structpb.Value via its JSON form.
func toValue(v interface{}) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// fromValue decodes a structpb.Value into out via its JSON form.
func fromValue(v *structpb.Value, out interface{}) error {
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(out)
}

// MarshalArchitectureProto encodes arch as a deterministic protobuf ListValue.
func MarshalArchitectureProto(arch layers.Architecture) ([]byte, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	value, err := toValue(arch)
	if err != nil {
		return nil, fmt.Errorf("failed to convert architecture: %v", err)
	}
	data, err := deterministic.Marshal(value.GetListValue())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal architecture proto: %v", err)
	}
	return data, nil
}

// UnmarshalArchitectureProto decodes and validates an architecture written by MarshalArchitectureProto.
func UnmarshalArchitectureProto(data []byte) (layers.Architecture, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse architecture proto: %v", err)
	}
	var arch layers.Architecture
	if err := fromValue(structpb.NewListValue(&list), &arch); err != nil {
		return nil, fmt.Errorf("failed to decode architecture: %w", err)
	}
	for i := range arch {
		if arch[i].Parameters == nil {
			arch[i].Parameters = map[string]interface{}{}
		}
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	return arch, nil
}

// MarshalSnapshotProto encodes a snapshot as a deterministic protobuf Struct.
func MarshalSnapshotProto(snapshot *Snapshot) ([]byte, error) {
	value, err := toValue(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to convert snapshot: %v", err)
	}
	data, err := deterministic.Marshal(value.GetStructValue())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot proto: %v", err)
	}
	return data, nil
}

// UnmarshalSnapshotProto decodes a snapshot written by MarshalSnapshotProto.
func UnmarshalSnapshotProto(data []byte) (*Snapshot, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot proto: %v", err)
	}
	var snapshot Snapshot
	if err := fromValue(structpb.NewStructValue(&s), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := snapshot.Architecture.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot architecture: %w", err)
	}
	return &snapshot, nil
}
