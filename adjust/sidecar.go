package adjust

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load decodes a TOML sidecar. Fields missing from r keep their Default
// value; unknown keys are rejected.
func Load(r io.Reader) (State, error) {
	s := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return State{}, fmt.Errorf("failed to decode adjustments: %w", err)
	}
	return s.Normalize(), nil
}

// LoadFile reads a sidecar from path.
func LoadFile(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	return Load(f)
}

// Marshal encodes s as a TOML sidecar.
func Marshal(s State) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode adjustments: %w", err)
	}
	return buf.Bytes(), nil
}
