package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TermKey serializes as "STATION/PHASE" so it can be used directly as a
// YAML mapping key in run-directory snapshots. Station and phase labels
// never contain a slash in the supported bulletin formats.

// MarshalYAML implements yaml.Marshaler.
func (k TermKey) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *TermKey) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	station, phase, ok := strings.Cut(s, "/")
	if !ok {
		return fmt.Errorf("malformed term key %q: want STATION/PHASE", s)
	}
	k.Station = station
	k.Phase = phase
	return nil
}
