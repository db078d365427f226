package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// topologyFile mirrors the config/topology.yaml layout.
type topologyFile struct {
	Nodes []Node `yaml:"nodes"`
	Edges []Edge `yaml:"edges"`
}

// LoadFile reads a topology YAML file and returns its nodes and edges.
// Validation happens in Graph.Load, not here; this only decodes.
func LoadFile(path string) ([]Node, []Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	var f topologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse topology file: %w", err)
	}
	return f.Nodes, f.Edges, nil
}
