package layers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LoadArchitecture decodes a persisted architecture.
// Numbers are kept as json.Number so a load/save cycle reproduces the input bytes.
// Unknown layer tags fail here, before anything is built.
func LoadArchitecture(r io.Reader) (Architecture, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var arch Architecture
	if err := decoder.Decode(&arch); err != nil {
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

// Save writes the canonical JSON encoding of the architecture.
func (a Architecture) Save(w io.Writer) error {
	data, err := a.MarshalCanonical()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// MarshalCanonical returns the indented JSON form with sorted parameter keys and a trailing newline.
func (a Architecture) MarshalCanonical() ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(a); err != nil {
		return nil, fmt.Errorf("failed to encode architecture: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadArchitectureFile loads an architecture from path.
func ReadArchitectureFile(path string) (Architecture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open architecture file: %w", err)
	}
	defer file.Close()
	return LoadArchitecture(file)
}

// WriteArchitectureFile writes the canonical encoding of arch to path.
func WriteArchitectureFile(path string, arch Architecture) error {
	data, err := arch.MarshalCanonical()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write architecture file: %w", err)
	}
	return nil
}
