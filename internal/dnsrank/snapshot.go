package dnsrank

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSnapshot reads a YAML snapshot file and merges it into state via
// State.Load. known is the full set of servers the live Config expects;
// any of them missing from the snapshot are re-added with fresh defaults.
// A missing file is not an error (first run has no snapshot yet).
func LoadSnapshot(path string, state State, known []Server) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		for _, server := range known {
			state.Add(server)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("dnsrank: read snapshot %q: %w", path, err)
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("dnsrank: parse snapshot %q: %w", path, err)
	}
	if err := state.Load(data, known); err != nil {
		return fmt.Errorf("dnsrank: load snapshot %q: %w", path, err)
	}
	return nil
}

// DumpSnapshot writes state's current Dump() to path as YAML.
func DumpSnapshot(path string, state State) error {
	raw, err := yaml.Marshal(state.Dump())
	if err != nil {
		return fmt.Errorf("dnsrank: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("dnsrank: write snapshot %q: %w", path, err)
	}
	return nil
}
